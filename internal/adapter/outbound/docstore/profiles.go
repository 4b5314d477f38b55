package docstore

import (
	"context"
	"fmt"

	"github.com/chatrelay/server/internal/model"
)

// GetProfile fetches a user profile document. The document ID is the
// user ID.
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.UserAccount, error) {
	var account model.UserAccount
	if err := c.getDocument(ctx, c.collections.Profiles, userID, &account); err != nil {
		return nil, err
	}
	if account.ID == "" {
		account.ID = userID
	}
	return &account, nil
}

// CreateProfile creates a profile document owned by the user, with the
// free plan and zeroed usage counters.
func (c *Client) CreateProfile(ctx context.Context, userID, name, email string) (*model.UserAccount, error) {
	data := map[string]any{
		"name":        name,
		"email":       email,
		"plan":        model.PlanTypeFree.String(),
		"usageStats":  model.UsageStats{}.Encode(),
		"preferences": "[]",
	}
	perms := ownerPermissions(userID)

	var account model.UserAccount
	if err := c.createDocument(ctx, c.collections.Profiles, userID, data, perms, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateUsageStats writes the full counter set back to the profile.
func (c *Client) UpdateUsageStats(ctx context.Context, userID string, stats model.UsageStats) error {
	data := map[string]any{"usageStats": stats.Encode()}
	return c.updateDocument(ctx, c.collections.Profiles, userID, data, nil, nil)
}

// UpdatePreferences replaces the provider preference blob.
func (c *Client) UpdatePreferences(ctx context.Context, userID string, prefs []model.ProviderPreference) error {
	data := map[string]any{"preferences": model.EncodePreferences(prefs)}
	return c.updateDocument(ctx, c.collections.Profiles, userID, data, nil, nil)
}

// UpdateName updates the display name on the profile.
func (c *Client) UpdateName(ctx context.Context, userID, name string) error {
	data := map[string]any{"name": name}
	return c.updateDocument(ctx, c.collections.Profiles, userID, data, nil, nil)
}

// ownerPermissions builds the store permission list granting a single
// user full access to a document.
func ownerPermissions(userID string) []string {
	return []string{
		fmt.Sprintf("read(\"user:%s\")", userID),
		fmt.Sprintf("update(\"user:%s\")", userID),
		fmt.Sprintf("delete(\"user:%s\")", userID),
	}
}

// readPermission builds a read-only grant for a user.
func readPermission(userID string) string {
	return fmt.Sprintf("read(\"user:%s\")", userID)
}

// updatePermission builds a write grant for a user.
func updatePermission(userID string) string {
	return fmt.Sprintf("update(\"user:%s\")", userID)
}
