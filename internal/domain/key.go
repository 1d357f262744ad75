package domain

import "time"

// SigningKey is one persisted row of the signing key ring. Public and private
// material are stored as JWK JSON; only valid rows participate in signing and
// JWKS publication.
type SigningKey struct {
	ID         int64
	Valid      bool
	CreatedAt  time.Time
	Algorithm  string
	PublicJWK  string
	PrivateJWK string
}
