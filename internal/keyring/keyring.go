package keyring

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/repository"
)

// DefaultAlgorithm is the signature scheme for newly generated keys.
const DefaultAlgorithm = string(jose.RS256)

const rsaKeyBits = 2048

// validKeyLimit caps the ring at the signing key plus its predecessor, so
// tokens issued under the previous key stay verifiable for one full rotation
// cycle.
const validKeyLimit = 2

// ErrNoSigningKey indicates the ring holds no valid key. Minting a token is
// impossible until a rotation occurs.
var ErrNoSigningKey = errors.New("keyring: no signing key")

// Key pairs a persisted row with its parsed JWK material.
type Key struct {
	ID        int64
	CreatedAt time.Time
	Algorithm string
	Public    jose.JSONWebKey
	Private   jose.JSONWebKey
}

// Keyset is the ordered set of valid keys, oldest first. The last entry signs.
type Keyset struct {
	Keys []Key
}

// Manager owns signing key generation, rotation, and JWKS projection. It holds
// no in-process key cache; persisted rows are the source of truth and every
// operation re-reads them.
type Manager struct {
	repo   repository.KeyRepository
	logger *zap.Logger
}

// NewManager creates a Manager.
func NewManager(repo repository.KeyRepository, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.L()
	}
	return &Manager{repo: repo, logger: logger}
}

// CurrentKeySet loads the valid keys ordered by creation time, oldest first.
func (m *Manager) CurrentKeySet(ctx context.Context) (Keyset, error) {
	rows, err := m.repo.ListValid(ctx)
	if err != nil {
		return Keyset{}, fmt.Errorf("load key set: %w", err)
	}
	keys := make([]Key, 0, len(rows))
	for _, row := range rows {
		key, err := interpretKey(row)
		if err != nil {
			return Keyset{}, fmt.Errorf("interpret key %d: %w", row.ID, err)
		}
		keys = append(keys, key)
	}
	return Keyset{Keys: keys}, nil
}

// SigningKey returns the most recently created valid key.
func (m *Manager) SigningKey(set Keyset) (Key, error) {
	if len(set.Keys) == 0 {
		return Key{}, ErrNoSigningKey
	}
	return set.Keys[len(set.Keys)-1], nil
}

// Rotate generates a fresh RSA key pair, persists it as valid, and retires
// every valid key beyond the two newest. The retirement is a single
// conditional update keyed on creation rank, so concurrent rotations cannot
// retire a key that is still among the newest two.
func (m *Manager) Rotate(ctx context.Context) error {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	kid := uuid.NewString()
	privateJWK := jose.JSONWebKey{Key: private, KeyID: kid, Algorithm: DefaultAlgorithm, Use: "sig"}
	publicJWK := privateJWK.Public()

	privateJSON, err := privateJWK.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export private jwk: %w", err)
	}
	publicJSON, err := publicJWK.MarshalJSON()
	if err != nil {
		return fmt.Errorf("export public jwk: %w", err)
	}

	inserted, err := m.repo.Insert(ctx, domain.SigningKey{
		Valid:      true,
		Algorithm:  DefaultAlgorithm,
		PublicJWK:  string(publicJSON),
		PrivateJWK: string(privateJSON),
	})
	if err != nil {
		return fmt.Errorf("persist signing key: %w", err)
	}

	retired, err := m.repo.RetireAllButNewest(ctx, validKeyLimit)
	if err != nil {
		return fmt.Errorf("retire old keys: %w", err)
	}
	if retired > 0 {
		m.logger.Warn("retired oldest valid signing keys", zap.Int64("retired", retired), zap.Int64("new_key_id", inserted.ID))
	}

	m.logger.Info("signing key rotated", zap.Int64("key_id", inserted.ID), zap.String("kid", kid))
	return nil
}

// Clear deletes every key row unconditionally. Irreversible; meant for
// emergency reset.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear keys: %w", err)
	}
	m.logger.Warn("signing key ring cleared")
	return nil
}

// PublicSet projects the valid keys into a JSON Web Key Set carrying only
// public material.
func (m *Manager) PublicSet(set Keyset) jose.JSONWebKeySet {
	keys := make([]jose.JSONWebKey, 0, len(set.Keys))
	for _, key := range set.Keys {
		keys = append(keys, key.Public)
	}
	return jose.JSONWebKeySet{Keys: keys}
}

func interpretKey(row domain.SigningKey) (Key, error) {
	var private jose.JSONWebKey
	if err := private.UnmarshalJSON([]byte(row.PrivateJWK)); err != nil {
		return Key{}, fmt.Errorf("parse private jwk: %w", err)
	}
	var public jose.JSONWebKey
	if err := public.UnmarshalJSON([]byte(row.PublicJWK)); err != nil {
		return Key{}, fmt.Errorf("parse public jwk: %w", err)
	}
	return Key{
		ID:        row.ID,
		CreatedAt: row.CreatedAt,
		Algorithm: row.Algorithm,
		Public:    public,
		Private:   private,
	}, nil
}
