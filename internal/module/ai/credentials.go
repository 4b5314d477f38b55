package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/model"
)

// ProfileReader is the slice of the document store the resolver needs.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*model.UserAccount, error)
}

// CredentialResolver extracts per-user provider API keys from the
// stored preference blob.
type CredentialResolver struct {
	profiles ProfileReader
	logger   *zap.Logger
}

// NewCredentialResolver creates a credential resolver.
func NewCredentialResolver(profiles ProfileReader, logger *zap.Logger) *CredentialResolver {
	return &CredentialResolver{
		profiles: profiles,
		logger:   logger,
	}
}

// ResolveAPIKey returns the user's API key for a provider, or "" when
// no usable key is configured. Malformed stored preferences are logged
// and treated as empty; only a failure to fetch the profile itself is
// an error, since it is indistinguishable from a misconfiguration.
func (r *CredentialResolver) ResolveAPIKey(ctx context.Context, userID string, provider model.ProviderName) (string, error) {
	account, err := r.profiles.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}

	prefs, err := model.DecodePreferences(account.Preferences)
	if err != nil {
		r.logger.Warn("malformed preferences blob",
			zap.String("user_id", userID),
			zap.Error(err))
		return "", nil
	}

	for _, pref := range prefs {
		if pref.Provider != provider {
			continue
		}
		if !pref.Enabled || pref.APIKey == "" {
			return "", nil
		}
		return pref.APIKey, nil
	}
	return "", nil
}
