package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/apikey"
	"github.com/vvoyage/exchange-API-tochka/libs/auth"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type UserService struct {
	store   storage.Store
	keyEnv  string
	logger  *slog.Logger
	metrics *Metrics
}

func NewUserService(store storage.Store, keyEnv string, logger *slog.Logger, metrics *Metrics) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	if keyEnv == "" {
		keyEnv = "dev"
	}
	return &UserService{store: store, keyEnv: keyEnv, logger: logger, metrics: metrics}
}

// Register creates a USER and returns it with its API key. The key is not
// stored and cannot be recovered later.
func (s *UserService) Register(ctx context.Context, name string) (*storage.User, string, error) {
	key, err := apikey.Generate(s.keyEnv)
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	user := &storage.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(name),
		Role:         storage.RoleUser,
		APIKeyPrefix: key.Prefix,
		APIKeyHash:   key.Hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID, "name", user.Name)
	return user, key.Full, nil
}

// ResolveAPIKey maps a presented key to its user id. Every failure other
// than a storage error is auth.ErrUnknownCredential.
func (s *UserService) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	prefix, err := apikey.PrefixOf(key)
	if err != nil {
		return "", auth.ErrUnknownCredential
	}
	user, err := s.store.GetUserByKeyPrefix(ctx, prefix)
	if errors.Is(err, storage.ErrNotFound) {
		return "", auth.ErrUnknownCredential
	}
	if err != nil {
		return "", err
	}
	if err := apikey.Verify(key, user.APIKeyHash); err != nil {
		return "", auth.ErrUnknownCredential
	}
	return user.ID.String(), nil
}

// Delete removes the user with its balances and orders and returns it.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	user, err := s.store.DeleteUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		err = ErrUserNotFound
	}
	s.metrics.observeAdmin("user_delete", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user deleted", "user_id", id)
	return user, nil
}

var _ auth.KeyResolver = (*UserService)(nil)
