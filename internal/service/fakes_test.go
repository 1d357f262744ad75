package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lanternauth/lantern/internal/analytics"
	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/repository"
)

type memClientRepo struct {
	clients map[string]domain.Client
}

var _ repository.ClientRepository = (*memClientRepo)(nil)

func newMemClientRepo(clients ...domain.Client) *memClientRepo {
	repo := &memClientRepo{clients: make(map[string]domain.Client)}
	for _, c := range clients {
		repo.clients[c.ID] = c
	}
	return repo
}

func (r *memClientRepo) GetByID(ctx context.Context, id string) (domain.Client, error) {
	client, ok := r.clients[id]
	if !ok {
		return domain.Client{}, pgx.ErrNoRows
	}
	return client, nil
}

func (r *memClientRepo) List(ctx context.Context) ([]domain.Client, error) {
	out := make([]domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out, nil
}

func (r *memClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	r.clients[client.ID] = client
	return client, nil
}

func (r *memClientRepo) Delete(ctx context.Context, id string) error {
	delete(r.clients, id)
	return nil
}

type memUserRepo struct {
	users map[int64]domain.User
}

var _ repository.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo(users ...domain.User) *memUserRepo {
	repo := &memUserRepo{users: make(map[int64]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *memUserRepo) List(ctx context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Delete(ctx context.Context, id int64) error {
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.Email = email
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	user, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	r.users[id] = user
	return nil
}

// memTokenStore ignores TTLs; expiry behavior is covered by the Redis store
// tests.
type memTokenStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ repository.TokenStore = (*memTokenStore)(nil)

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{values: make(map[string][]byte)}
}

func (s *memTokenStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memTokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *memTokenStore) Consume(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.values[key]
	delete(s.values, key)
	return value, nil
}

func (s *memTokenStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memTokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func (s *memTokenStore) onlyKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.values {
		return k
	}
	return ""
}

type captureSink struct {
	events []analytics.Event
}

var _ analytics.Sink = (*captureSink)(nil)

func (s *captureSink) Record(_ context.Context, event analytics.Event) {
	s.events = append(s.events, event)
}

type memKeyRepo struct {
	rows   []domain.SigningKey
	nextID int64
}

var _ repository.KeyRepository = (*memKeyRepo)(nil)

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{nextID: 1}
}

func (r *memKeyRepo) ListValid(ctx context.Context) ([]domain.SigningKey, error) {
	out := make([]domain.SigningKey, 0, len(r.rows))
	for _, row := range r.rows {
		if row.Valid {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memKeyRepo) Insert(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = r.nextID
	key.CreatedAt = time.Unix(key.ID, 0).UTC()
	r.nextID++
	r.rows = append(r.rows, key)
	return key, nil
}

func (r *memKeyRepo) RetireAllButNewest(ctx context.Context, keep int) (int64, error) {
	valid := 0
	for _, row := range r.rows {
		if row.Valid {
			valid++
		}
	}
	var retired int64
	for i := range r.rows {
		if valid <= keep {
			break
		}
		if r.rows[i].Valid {
			r.rows[i].Valid = false
			valid--
			retired++
		}
	}
	return retired, nil
}

func (r *memKeyRepo) DeleteAll(ctx context.Context) error {
	r.rows = nil
	return nil
}
