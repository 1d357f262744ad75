package repository

import (
	"context"
	"time"

	"github.com/lanternauth/lantern/internal/domain"
)

// ClientRepository exposes persistence for registered OAuth clients.
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (domain.Client, error)
	List(ctx context.Context) ([]domain.Client, error)
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository exposes persistence for resource owner accounts.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Delete(ctx context.Context, id int64) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// KeyRepository stores signing key rows for the key ring.
type KeyRepository interface {
	// ListValid returns valid keys ordered by creation time, oldest first.
	ListValid(ctx context.Context) ([]domain.SigningKey, error)
	Insert(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
	// RetireAllButNewest marks every valid key beyond the keep newest as
	// invalid in a single conditional statement and reports how many rows
	// changed. Safe to run concurrently.
	RetireAllButNewest(ctx context.Context, keep int) (int64, error)
	DeleteAll(ctx context.Context) error
}

// TokenStore is a TTL-bound key-value store for short-lived opaque tokens.
// Expiry is enforced natively by the backing store. Get and Consume report
// absence as (nil, nil).
type TokenStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Consume atomically reads and deletes the key so a value can be honored
	// at most once.
	Consume(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CSRFTokenStore and AuthCodeStore are distinct handles over TokenStore so the
// two TTL namespaces cannot be conflated when wiring dependencies.
type CSRFTokenStore interface{ TokenStore }

// AuthCodeStore holds pending authorization codes.
type AuthCodeStore interface{ TokenStore }
