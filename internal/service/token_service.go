package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/keyring"
	"github.com/lanternauth/lantern/internal/repository"
)

// IdentityClaims are the custom claims carried by every minted token.
type IdentityClaims struct {
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// ExchangeRequest carries the parsed POST /oidc/token request.
type ExchangeRequest struct {
	ClientSecret string
	GrantType    string
	Code         string
	RedirectURI  string
}

// TokenService redeems one-time authorization codes for signed identity
// tokens. Single-shot: no state survives between requests.
type TokenService struct {
	clients      repository.ClientRepository
	users        repository.UserRepository
	codes        repository.AuthCodeStore
	keys         *keyring.Manager
	issuer       string
	tokenTTL     time.Duration
	strictChecks bool
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewTokenService wires dependencies. When strictChecks is set the exchange
// additionally enforces redirect-URI match and client-secret equality; the
// checks default off to preserve the deployed behavior.
func NewTokenService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	codes repository.AuthCodeStore,
	keys *keyring.Manager,
	issuer string,
	tokenTTL time.Duration,
	strictChecks bool,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		clients:      clients,
		users:        users,
		codes:        codes,
		keys:         keys,
		issuer:       issuer,
		tokenTTL:     tokenTTL,
		strictChecks: strictChecks,
		logger:       logger,
		tracer:       otel.Tracer("github.com/lanternauth/lantern/internal/service"),
	}
}

// Exchange validates the token request, redeems the code (deleting it: codes
// are single use), and mints a signed identity token.
func (s *TokenService) Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.Exchange")
	defer span.End()

	if req.ClientSecret == "" {
		return nil, newOAuthError("access_denied", "Missing auth token.", http.StatusForbidden)
	}
	if req.GrantType != "authorization_code" {
		return nil, newOAuthError("unsupported_grant_type", "Invalid grant type.", http.StatusBadRequest)
	}
	if req.Code == "" {
		return nil, newOAuthError("invalid_request", "Missing authorization code.", http.StatusBadRequest)
	}

	payload, err := s.codes.Consume(ctx, req.Code)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("redeem authorization code: %w", err)
	}
	if payload == nil {
		return nil, newOAuthError("invalid_grant", "Invalid code.", http.StatusForbidden)
	}

	var data domain.AuthCodeData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode code data: %w", err)
	}

	// A valid code must reference valid entities; their absence is an
	// internal invariant violation, not a client error.
	client, err := s.clients.GetByID(ctx, data.ClientID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("authorization code references unknown client %s", data.ClientID)
		}
		return nil, fmt.Errorf("exchange lookup client: %w", err)
	}
	user, err := s.users.GetByID(ctx, data.UserID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("authorization code references unknown user %d", data.UserID)
		}
		return nil, fmt.Errorf("exchange lookup user: %w", err)
	}

	if s.strictChecks {
		if req.RedirectURI != "" && req.RedirectURI != data.RedirectURI {
			return nil, newOAuthError("invalid_grant", "Redirect URI mismatch.", http.StatusForbidden)
		}
		if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(req.ClientSecret)) != 1 {
			return nil, newOAuthError("access_denied", "Invalid client secret.", http.StatusForbidden)
		}
	}

	set, err := s.keys.CurrentKeySet(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	key, err := s.keys.SigningKey(set)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	token, err := s.Mint(key, user, client)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("identity token issued",
		zap.String("client_id", client.ID),
		zap.Int64("user_id", user.ID),
		zap.Int64("key_id", key.ID),
	)

	return &TokenResponse{
		AccessToken: token,
		IDToken:     token,
		TokenType:   "id_token",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		Scope:       "openid",
	}, nil
}

// Mint produces a fresh signed identity assertion for the user and audience.
// Also used by the admin token preview.
func (s *TokenService) Mint(key keyring.Key, user domain.User, client domain.Client) (string, error) {
	opts := (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.Public.KeyID)
	signer, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: gojose.SignatureAlgorithm(key.Algorithm),
		Key:       key.Private.Key,
	}, opts)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Issuer:   s.issuer,
		Subject:  user.Username,
		Audience: gojwt.Audience{client.ID},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	custom := IdentityClaims{
		PreferredUsername: user.Username,
		Email:             user.Email,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}
