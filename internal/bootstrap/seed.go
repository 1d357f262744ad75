package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lanternauth/lantern/internal/config"
	"github.com/lanternauth/lantern/internal/domain"
	"github.com/lanternauth/lantern/internal/keyring"
	"github.com/lanternauth/lantern/internal/password"
	"github.com/lanternauth/lantern/internal/repository"
)

// EnsureAdmin creates the configured admin account on startup if missing.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, hasher, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) error {
	username := strings.TrimSpace(cfg.AdminUsername)
	if username == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return fmt.Errorf("admin bootstrap missing required config")
	}

	if _, err := users.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	user := domain.User{
		ID:           node.Generate().Int64(),
		Username:     username,
		Email:        cfg.AdminEmail,
		PasswordHash: hashed,
	}

	created, err := users.Create(ctx, user)
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("username", created.Username),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}

// EnsureSigningKey rotates once at startup when the keyset is empty so the
// first token request never races key creation.
func EnsureSigningKey(lc fx.Lifecycle, keys *keyring.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			set, err := keys.CurrentKeySet(ctx)
			if err != nil {
				return fmt.Errorf("bootstrap load keyset: %w", err)
			}
			if len(set.Keys) > 0 {
				return nil
			}
			if err := keys.Rotate(ctx); err != nil {
				return fmt.Errorf("bootstrap rotate keys: %w", err)
			}
			if logger != nil {
				logger.Info("bootstrap signing key created")
			}
			return nil
		},
	})
}
