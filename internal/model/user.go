package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlanType represents the subscription plan of a user account.
type PlanType string

const (
	PlanTypeFree    PlanType = "free"
	PlanTypePro     PlanType = "pro"
	PlanTypePremium PlanType = "premium"
)

// String returns the string representation of the plan type.
func (p PlanType) String() string {
	return string(p)
}

// UserAccount is a user profile document as stored in the document
// store. UsageStats and Preferences are JSON-encoded blobs inside the
// otherwise structured document; they are decoded exactly once at the
// boundary via the typed accessors below.
type UserAccount struct {
	ID          string    `json:"$id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Plan        string    `json:"plan"`
	UsageStats  string    `json:"usageStats"`
	Preferences string    `json:"preferences"`
	CreatedAt   time.Time `json:"$createdAt,omitempty"`
	UpdatedAt   time.Time `json:"$updatedAt,omitempty"`
}

// UsageStats holds per-operation usage counters. Counters are
// non-negative; a freshly created profile starts at zero.
type UsageStats struct {
	TextQueries  int `json:"textQueries"`
	ImageQueries int `json:"imageQueries"`
	VideoQueries int `json:"videoQueries"`
}

// DecodeUsageStats parses the usage counter blob. Malformed or empty
// input degrades to zeroed counters; the returned error is for logging
// only and never aborts the caller.
func DecodeUsageStats(raw string) (UsageStats, error) {
	var stats UsageStats
	if strings.TrimSpace(raw) == "" {
		return stats, nil
	}
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return UsageStats{}, fmt.Errorf("decode usage stats: %w", err)
	}
	if stats.TextQueries < 0 {
		stats.TextQueries = 0
	}
	if stats.ImageQueries < 0 {
		stats.ImageQueries = 0
	}
	if stats.VideoQueries < 0 {
		stats.VideoQueries = 0
	}
	return stats, nil
}

// Encode serializes the counter set for writing back to the store.
func (s UsageStats) Encode() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Count returns the counter for the given operation.
func (s UsageStats) Count(op OperationType) int {
	switch op {
	case OperationText:
		return s.TextQueries
	case OperationImage:
		return s.ImageQueries
	case OperationVideo:
		return s.VideoQueries
	}
	return 0
}

// Increment bumps exactly the counter for the given operation.
func (s *UsageStats) Increment(op OperationType) {
	switch op {
	case OperationText:
		s.TextQueries++
	case OperationImage:
		s.ImageQueries++
	case OperationVideo:
		s.VideoQueries++
	}
}

// ProviderName identifies an LLM provider.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGoogle    ProviderName = "google"
	ProviderMistral   ProviderName = "mistral"
)

// IsKnown reports whether the provider is one of the supported set.
func (p ProviderName) IsKnown() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderMistral:
		return true
	}
	return false
}

// ModelEntry describes one model a user enabled for a provider.
type ModelEntry struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ProviderPreference is one entry of a user's provider preference list.
// At most one entry per provider name may exist per user.
type ProviderPreference struct {
	Provider ProviderName `json:"provider"`
	Enabled  bool         `json:"enabled"`
	APIKey   string       `json:"apiKey"`
	Models   []ModelEntry `json:"models,omitempty"`
}

// DecodePreferences parses the preference blob. Malformed or missing
// JSON degrades to an empty list; the error is for logging only.
func DecodePreferences(raw string) ([]ProviderPreference, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var prefs []ProviderPreference
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

// EncodePreferences serializes a preference list for storage.
func EncodePreferences(prefs []ProviderPreference) string {
	data, _ := json.Marshal(prefs)
	return string(data)
}

// ValidatePreferences enforces the one-entry-per-provider invariant.
func ValidatePreferences(prefs []ProviderPreference) error {
	seen := make(map[ProviderName]bool, len(prefs))
	for _, p := range prefs {
		if !p.Provider.IsKnown() {
			return fmt.Errorf("unknown provider %q", p.Provider)
		}
		if seen[p.Provider] {
			return fmt.Errorf("duplicate preference entry for provider %q", p.Provider)
		}
		seen[p.Provider] = true
	}
	return nil
}

// PlanLimits is immutable reference data: per-operation ceilings for a
// plan, loaded from the pricing collection.
type PlanLimits struct {
	Plan       string `json:"plan"`
	TextLimit  int    `json:"textLimit"`
	ImageLimit int    `json:"imageLimit"`
	VideoLimit int    `json:"videoLimit"`
}

// LimitFor returns the ceiling for the given operation.
func (l PlanLimits) LimitFor(op OperationType) int {
	switch op {
	case OperationText:
		return l.TextLimit
	case OperationImage:
		return l.ImageLimit
	case OperationVideo:
		return l.VideoLimit
	}
	return 0
}

// OperationType is the metered generation operation kind.
type OperationType string

const (
	OperationText  OperationType = "text"
	OperationImage OperationType = "image"
	OperationVideo OperationType = "video"
)

// IsValid reports whether the operation type is known.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationText, OperationImage, OperationVideo:
		return true
	}
	return false
}

// UsageCheckResult is the transient outcome of a quota check. It is
// created by the ledger's check call and consumed exactly once by its
// increment call; it is never persisted.
type UsageCheckResult struct {
	Allowed   bool
	Message   string
	Limits    PlanLimits
	Current   int
	UserID    string
	Operation OperationType
}
