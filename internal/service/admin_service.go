package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/keyring"
	"github.com/lanternauth/lantern/internal/password"
	"github.com/lanternauth/lantern/internal/repository"
)

// AdminService backs the administrative API: client and user management, key
// ring actions, and token previews.
type AdminService struct {
	clients   repository.ClientRepository
	users     repository.UserRepository
	keys      *keyring.Manager
	tokens    *TokenService
	passwords *password.Hasher
	node      *snowflake.Node
	logger    *zap.Logger
}

// NewAdminService wires dependencies.
func NewAdminService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	keys *keyring.Manager,
	tokens *TokenService,
	passwords *password.Hasher,
	node *snowflake.Node,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		clients:   clients,
		users:     users,
		keys:      keys,
		tokens:    tokens,
		passwords: passwords,
		node:      node,
		logger:    logger,
	}
}

// ListClients returns every registered client.
func (s *AdminService) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.clients.List(ctx)
}

// CreateClient registers a client with generated id and secret.
func (s *AdminService) CreateClient(ctx context.Context, name string) (domain.Client, error) {
	if len(name) < 3 {
		return domain.Client{}, newOAuthError("invalid_request", "Invalid name (should be at least 3 characters).", http.StatusBadRequest)
	}
	client := domain.Client{
		ID:     uuid.NewString(),
		Name:   name,
		Secret: uuid.NewString(),
	}
	created, err := s.clients.Create(ctx, client)
	if err != nil {
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}
	s.logger.Info("client created", zap.String("client_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// DeleteClient removes a client registration.
func (s *AdminService) DeleteClient(ctx context.Context, id string) error {
	return s.clients.Delete(ctx, id)
}

// ListUsers returns every account.
func (s *AdminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

// CreateUser registers an account with a freshly hashed password.
func (s *AdminService) CreateUser(ctx context.Context, username, email, plaintext string) (domain.User, error) {
	if username == "" {
		return domain.User{}, newOAuthError("invalid_request", "Missing username.", http.StatusBadRequest)
	}
	if plaintext == "" {
		return domain.User{}, newOAuthError("invalid_request", "Missing password.", http.StatusBadRequest)
	}
	hash, err := s.passwords.Hash(plaintext)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           s.node.Generate().Int64(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created", zap.Int64("user_id", created.ID), zap.String("username", created.Username))
	return created, nil
}

// DeleteUser removes an account.
func (s *AdminService) DeleteUser(ctx context.Context, id int64) error {
	return s.users.Delete(ctx, id)
}

// ChangeEmail updates an account's email address.
func (s *AdminService) ChangeEmail(ctx context.Context, id int64, email string) error {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newOAuthError("not_found", "Unknown user.", http.StatusNotFound)
		}
		return fmt.Errorf("change email lookup: %w", err)
	}
	if err := s.users.UpdateEmail(ctx, id, email); err != nil {
		return err
	}
	s.logger.Info("user email changed", zap.Int64("user_id", id))
	return nil
}

// ChangePassword re-hashes and stores a new password for the account.
func (s *AdminService) ChangePassword(ctx context.Context, id int64, plaintext string) error {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newOAuthError("not_found", "Unknown user.", http.StatusNotFound)
		}
		return fmt.Errorf("change password lookup: %w", err)
	}
	hash, err := s.passwords.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	s.logger.Info("user password changed", zap.Int64("user_id", id))
	return nil
}

// PreviewToken mints a fresh identity token for the user/client pair without
// going through the authorization flow.
func (s *AdminService) PreviewToken(ctx context.Context, userID int64, clientID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", newOAuthError("not_found", "Unknown user.", http.StatusNotFound)
		}
		return "", fmt.Errorf("preview lookup user: %w", err)
	}
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", newOAuthError("not_found", "Unknown client.", http.StatusNotFound)
		}
		return "", fmt.Errorf("preview lookup client: %w", err)
	}

	set, err := s.keys.CurrentKeySet(ctx)
	if err != nil {
		return "", err
	}
	key, err := s.keys.SigningKey(set)
	if err != nil {
		return "", err
	}
	return s.tokens.Mint(key, user, client)
}

// RotateKeys adds a signing key and retires the oldest beyond the pair.
func (s *AdminService) RotateKeys(ctx context.Context) error {
	return s.keys.Rotate(ctx)
}

// ClearKeys wipes the key ring.
func (s *AdminService) ClearKeys(ctx context.Context) error {
	return s.keys.Clear(ctx)
}
