package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/analytics"
	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/password"
	"github.com/lanternauth/lantern/internal/repository"
)

// AuthorizeContext rides through the login form as an opaque hidden field and
// binds the pending authorization attempt to its CSRF token.
type AuthorizeContext struct {
	ResponseType string `json:"response_type"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope"`
	RedirectURI  string `json:"redirect_uri"`
	State        string `json:"state,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	CSRFToken    string `json:"csrf_token"`
}

// AuthorizeRequest carries the parsed GET /oidc/authorize query.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	Scope        string
	RedirectURI  string
	State        string
	Nonce        string
}

// LoginForm is everything the login page template needs.
type LoginForm struct {
	ClientName  string
	Context     AuthorizeContext
	ContextJSON string
}

// LoginSubmission carries the posted login form.
type LoginSubmission struct {
	Username    string
	Password    string
	ContextJSON string
}

// AuthorizeService drives the authorization flow: validate the request, issue
// an anti-forgery token, verify credentials, mint a one-time code, redirect.
type AuthorizeService struct {
	clients   repository.ClientRepository
	users     repository.UserRepository
	csrf      repository.CSRFTokenStore
	codes     repository.AuthCodeStore
	passwords *password.Hasher
	sink      analytics.Sink
	csrfTTL   time.Duration
	codeTTL   time.Duration
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthorizeService wires dependencies.
func NewAuthorizeService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	csrf repository.CSRFTokenStore,
	codes repository.AuthCodeStore,
	passwords *password.Hasher,
	sink analytics.Sink,
	csrfTTL, codeTTL time.Duration,
	logger *zap.Logger,
) *AuthorizeService {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &AuthorizeService{
		clients:   clients,
		users:     users,
		csrf:      csrf,
		codes:     codes,
		passwords: passwords,
		sink:      sink,
		csrfTTL:   csrfTTL,
		codeTTL:   codeTTL,
		logger:    logger,
		tracer:    otel.Tracer("github.com/lanternauth/lantern/internal/service"),
	}
}

// Begin validates an authorization request, stores a fresh CSRF token, and
// returns the login form state. Nothing else happens before credentials are
// submitted.
func (s *AuthorizeService) Begin(ctx context.Context, req AuthorizeRequest) (*LoginForm, error) {
	ctx, span := s.tracer.Start(ctx, "AuthorizeService.Begin")
	defer span.End()

	if req.ResponseType == "" {
		return nil, newOAuthError("invalid_request", "Missing response type.", http.StatusBadRequest)
	}
	if req.ResponseType != "code" {
		return nil, newOAuthError("unsupported_response_type", "Invalid response type.", http.StatusBadRequest)
	}
	if req.ClientID == "" {
		return nil, newOAuthError("invalid_request", "Missing client ID.", http.StatusBadRequest)
	}
	if req.Scope == "" {
		return nil, newOAuthError("invalid_request", "Missing scope.", http.StatusBadRequest)
	}
	if req.RedirectURI == "" {
		return nil, newOAuthError("invalid_request", "Missing redirect URI.", http.StatusBadRequest)
	}

	client, err := s.clients.GetByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newOAuthError("invalid_request", "Invalid client ID.", http.StatusBadRequest)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("authorize lookup client: %w", err)
	}

	csrfToken := uuid.NewString()
	if err := s.csrf.Put(ctx, csrfToken, []byte("ok"), s.csrfTTL); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store csrf token: %w", err)
	}

	formCtx := AuthorizeContext{
		ResponseType: req.ResponseType,
		ClientID:     req.ClientID,
		Scope:        req.Scope,
		RedirectURI:  req.RedirectURI,
		State:        req.State,
		Nonce:        req.Nonce,
		CSRFToken:    csrfToken,
	}
	encoded, err := json.Marshal(formCtx)
	if err != nil {
		return nil, fmt.Errorf("encode form context: %w", err)
	}

	return &LoginForm{
		ClientName:  client.Name,
		Context:     formCtx,
		ContextJSON: string(encoded),
	}, nil
}

// Complete consumes the CSRF token, verifies credentials, mints a one-time
// authorization code, and returns the redirect URL. Every validation failure
// is terminal.
func (s *AuthorizeService) Complete(ctx context.Context, sub LoginSubmission) (string, error) {
	ctx, span := s.tracer.Start(ctx, "AuthorizeService.Complete")
	defer span.End()

	if sub.Username == "" {
		return "", newOAuthError("invalid_request", "Missing username.", http.StatusBadRequest)
	}
	if sub.Password == "" {
		return "", newOAuthError("invalid_request", "Missing password.", http.StatusBadRequest)
	}
	if sub.ContextJSON == "" {
		return "", newOAuthError("invalid_request", "Missing context.", http.StatusBadRequest)
	}

	var formCtx AuthorizeContext
	if err := json.Unmarshal([]byte(sub.ContextJSON), &formCtx); err != nil {
		return "", newOAuthError("invalid_request", "Malformed context.", http.StatusBadRequest)
	}

	// Atomic read+delete: a replayed submission observes absence.
	consumed, err := s.csrf.Consume(ctx, formCtx.CSRFToken)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("consume csrf token: %w", err)
	}
	if consumed == nil {
		return "", newOAuthError("invalid_request", "Your CSRF token has expired. Please try again.", http.StatusBadRequest)
	}

	user, err := s.users.GetByUsername(ctx, sub.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.sink.Record(ctx, analytics.Event{
				Tags:       []string{"client:" + formCtx.ClientID, "invalidUsername"},
				Dimensions: []string{"noUser"},
			})
			return "", newOAuthError("access_denied", invalidCredentials, http.StatusForbidden)
		}
		span.RecordError(err)
		return "", fmt.Errorf("authorize lookup user: %w", err)
	}

	ok, err := s.passwords.Verify(user.PasswordHash, sub.Password)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("verify credentials: %w", err)
	}
	if !ok {
		s.sink.Record(ctx, analytics.Event{
			Tags:       []string{"client:" + formCtx.ClientID, "invalidPassword"},
			Dimensions: []string{fmt.Sprintf("user:%d", user.ID)},
		})
		return "", newOAuthError("access_denied", invalidCredentials, http.StatusForbidden)
	}

	code := uuid.NewString()
	payload, err := json.Marshal(domain.AuthCodeData{
		UserID:      user.ID,
		ClientID:    formCtx.ClientID,
		RedirectURI: formCtx.RedirectURI,
	})
	if err != nil {
		return "", fmt.Errorf("encode code data: %w", err)
	}
	if err := s.codes.Put(ctx, code, payload, s.codeTTL); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("store authorization code: %w", err)
	}

	s.sink.Record(ctx, analytics.Event{
		Tags:       []string{"client:" + formCtx.ClientID, "authorization"},
		Dimensions: []string{fmt.Sprintf("user:%d", user.ID)},
	})

	redirect, err := url.Parse(formCtx.RedirectURI)
	if err != nil {
		return "", newOAuthError("invalid_request", "Malformed redirect URI.", http.StatusBadRequest)
	}
	q := redirect.Query()
	q.Set("code", code)
	if formCtx.State != "" {
		q.Set("state", formCtx.State)
	}
	redirect.RawQuery = q.Encode()

	s.logger.Info("authorization code issued",
		zap.Int64("user_id", user.ID),
		zap.String("client_id", formCtx.ClientID),
	)
	return redirect.String(), nil
}
