package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lanternauth/lantern/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ClientRepository = (*PostgresClientRepo)(nil)
	_ UserRepository   = (*PostgresUserRepo)(nil)
	_ KeyRepository    = (*PostgresKeyRepo)(nil)
)

// PostgresClientRepo implements ClientRepository on a pgx pool.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

func (r *PostgresClientRepo) GetByID(ctx context.Context, id string) (domain.Client, error) {
	const query = `SELECT id, name, secret, created_at FROM clients WHERE id = $1`

	var client domain.Client
	if err := r.db.QueryRow(ctx, query, id).Scan(&client.ID, &client.Name, &client.Secret, &client.CreatedAt); err != nil {
		return domain.Client{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (r *PostgresClientRepo) List(ctx context.Context) ([]domain.Client, error) {
	const query = `SELECT id, name, secret, created_at FROM clients ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]domain.Client, 0)
	for rows.Next() {
		var client domain.Client
		if err := rows.Scan(&client.ID, &client.Name, &client.Secret, &client.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	const query = `INSERT INTO clients (id, name, secret)
VALUES ($1, $2, $3)
RETURNING id, name, secret, created_at`

	var inserted domain.Client
	if err := r.db.QueryRow(ctx, query, client.ID, client.Name, client.Secret).Scan(
		&inserted.ID,
		&inserted.Name,
		&inserted.Secret,
		&inserted.CreatedAt,
	); err != nil {
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}
	return inserted, nil
}

func (r *PostgresClientRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const selectUserColumns = `id, username, email, password_hash, created_at, updated_at`

func (r *PostgresUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	query := `SELECT ` + selectUserColumns + ` FROM users WHERE username = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, username))
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	query := `SELECT ` + selectUserColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + selectUserColumns + ` FROM users ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := `INSERT INTO users (id, username, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING ` + selectUserColumns

	inserted, err := r.scanUser(r.db.QueryRow(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash))
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return inserted, nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateEmail(ctx context.Context, id int64, email string) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET email = $1, updated_at = now() WHERE id = $2`, email, id); err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, passwordHash, id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) ListValid(ctx context.Context) ([]domain.SigningKey, error) {
	const query = `SELECT id, valid, created_at, alg, public_jwk, private_jwk
FROM signing_keys
WHERE valid
ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list valid keys: %w", err)
	}
	defer rows.Close()

	keys := make([]domain.SigningKey, 0)
	for rows.Next() {
		var key domain.SigningKey
		if err := rows.Scan(&key.ID, &key.Valid, &key.CreatedAt, &key.Algorithm, &key.PublicJWK, &key.PrivateJWK); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list valid keys: %w", err)
	}
	return keys, nil
}

func (r *PostgresKeyRepo) Insert(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `INSERT INTO signing_keys (valid, alg, public_jwk, private_jwk)
VALUES (TRUE, $1, $2, $3)
RETURNING id, valid, created_at, alg, public_jwk, private_jwk`

	var inserted domain.SigningKey
	if err := r.db.QueryRow(ctx, query, key.Algorithm, key.PublicJWK, key.PrivateJWK).Scan(
		&inserted.ID,
		&inserted.Valid,
		&inserted.CreatedAt,
		&inserted.Algorithm,
		&inserted.PublicJWK,
		&inserted.PrivateJWK,
	); err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert key: %w", err)
	}
	return inserted, nil
}

func (r *PostgresKeyRepo) RetireAllButNewest(ctx context.Context, keep int) (int64, error) {
	// Single conditional update keyed on creation rank: idempotent under
	// concurrent rotation, no read-modify-write window.
	const query = `UPDATE signing_keys SET valid = FALSE
WHERE valid AND id IN (
	SELECT id FROM signing_keys WHERE valid ORDER BY created_at DESC, id DESC OFFSET $1
)`

	tag, err := r.db.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("retire keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresKeyRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM signing_keys`); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}
