package user

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/model"
	apperrors "github.com/chatrelay/server/internal/shared/errors"
)

// Store is the document store surface the user module uses.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*model.UserAccount, error)
	CreateProfile(ctx context.Context, userID, name, email string) (*model.UserAccount, error)
	UpdatePreferences(ctx context.Context, userID string, prefs []model.ProviderPreference) error
	UpdateName(ctx context.Context, userID, name string) error
}

// Service manages user profile documents.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a user service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// EnsureProfile returns the caller's profile, creating it on first use
// with the free plan and zeroed counters.
func (s *Service) EnsureProfile(ctx context.Context, userID, name, email string) (*model.UserAccount, error) {
	account, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, docstore.ErrDocumentNotFound) {
		return nil, apperrors.Store(err)
	}

	account, err = s.store.CreateProfile(ctx, userID, name, email)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	s.logger.Info("profile created", zap.String("user_id", userID))
	return account, nil
}

// UpdatePreferences replaces the caller's provider preference list.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs []model.ProviderPreference) error {
	if err := model.ValidatePreferences(prefs); err != nil {
		return apperrors.BadRequest(err.Error())
	}
	if err := s.store.UpdatePreferences(ctx, userID, prefs); err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			return apperrors.NotFound("profile")
		}
		return apperrors.Store(err)
	}
	return nil
}

// UpdateName updates the caller's display name.
func (s *Service) UpdateName(ctx context.Context, userID, name string) error {
	if name == "" {
		return apperrors.BadRequest("name is required")
	}
	if err := s.store.UpdateName(ctx, userID, name); err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			return apperrors.NotFound("profile")
		}
		return apperrors.Store(err)
	}
	return nil
}
