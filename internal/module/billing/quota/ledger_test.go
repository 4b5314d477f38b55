package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/model"
)

type fakeProfiles struct {
	accounts map[string]*model.UserAccount
	getErr   error
	writeErr error
	written  map[string]model.UsageStats
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*model.UserAccount, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	account, ok := f.accounts[userID]
	if !ok {
		return nil, docstore.ErrDocumentNotFound
	}
	return account, nil
}

func (f *fakeProfiles) UpdateUsageStats(_ context.Context, userID string, stats model.UsageStats) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.written == nil {
		f.written = make(map[string]model.UsageStats)
	}
	f.written[userID] = stats
	return nil
}

type fakePlans struct {
	limits map[string]*model.PlanLimits
	err    error
}

func (f *fakePlans) GetPlanLimits(_ context.Context, plan string) (*model.PlanLimits, error) {
	if f.err != nil {
		return nil, f.err
	}
	limits, ok := f.limits[plan]
	if !ok {
		return nil, docstore.ErrDocumentNotFound
	}
	return limits, nil
}

func newTestLedger(profiles *fakeProfiles, plans *fakePlans) *Ledger {
	return NewLedger(profiles, plans, zap.NewNop())
}

func freeLimits() *fakePlans {
	return &fakePlans{limits: map[string]*model.PlanLimits{
		"free": {Plan: "free", TextLimit: 100, ImageLimit: 10, VideoLimit: 2},
	}}
}

func account(stats model.UsageStats) *model.UserAccount {
	return &model.UserAccount{
		ID:         "u1",
		Plan:       "free",
		UsageStats: stats.Encode(),
	}
}

func TestCheckUsageLimit(t *testing.T) {
	t.Run("allowed under limit", func(t *testing.T) {
		profiles := &fakeProfiles{accounts: map[string]*model.UserAccount{
			"u1": account(model.UsageStats{TextQueries: 2}),
		}}
		ledger := newTestLedger(profiles, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationText)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Current)
		assert.Equal(t, "You have used 2 of 100 text generations this period.", res.Message)
	})

	t.Run("denied at limit", func(t *testing.T) {
		profiles := &fakeProfiles{accounts: map[string]*model.UserAccount{
			"u1": account(model.UsageStats{ImageQueries: 10}),
		}}
		ledger := newTestLedger(profiles, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationImage)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Contains(t, res.Message, "reached your image generation limit")
		assert.Contains(t, res.Message, "free plan")
	})

	t.Run("unknown operation is denied", func(t *testing.T) {
		ledger := newTestLedger(&fakeProfiles{}, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationType("audio"))
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, "Unknown operation type.", res.Message)
	})

	t.Run("missing profile is denied", func(t *testing.T) {
		ledger := newTestLedger(&fakeProfiles{accounts: map[string]*model.UserAccount{}}, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "ghost", model.OperationText)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, "User profile not found.", res.Message)
	})

	t.Run("unresolvable plan is denied", func(t *testing.T) {
		profiles := &fakeProfiles{accounts: map[string]*model.UserAccount{
			"u1": {ID: "u1", Plan: "legacy"},
		}}
		ledger := newTestLedger(profiles, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationText)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, "Unable to resolve limits for the legacy plan.", res.Message)
	})

	t.Run("store transport failure is an error", func(t *testing.T) {
		ledger := newTestLedger(&fakeProfiles{getErr: docstore.ErrTransport}, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationText)
		assert.Error(t, err)
		assert.Nil(t, res)
	})

	t.Run("malformed counters degrade to zero usage", func(t *testing.T) {
		profiles := &fakeProfiles{accounts: map[string]*model.UserAccount{
			"u1": {ID: "u1", Plan: "free", UsageStats: "{corrupt"},
		}}
		ledger := newTestLedger(profiles, freeLimits())

		res, err := ledger.CheckUsageLimit(context.Background(), "u1", model.OperationText)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Current)
	})
}

func TestIncrementUsage(t *testing.T) {
	t.Run("nil result is a no-op", func(t *testing.T) {
		profiles := &fakeProfiles{}
		ledger := newTestLedger(profiles, freeLimits())

		assert.False(t, ledger.IncrementUsage(context.Background(), nil))
		assert.Empty(t, profiles.written)
	})

	t.Run("denied result is a no-op", func(t *testing.T) {
		profiles := &fakeProfiles{}
		ledger := newTestLedger(profiles, freeLimits())

		res := &model.UsageCheckResult{Allowed: false, UserID: "u1", Operation: model.OperationText}
		assert.False(t, ledger.IncrementUsage(context.Background(), res))
		assert.Empty(t, profiles.written)
	})

	t.Run("bumps exactly one counter from re-read state", func(t *testing.T) {
		profiles := &fakeProfiles{accounts: map[string]*model.UserAccount{
			"u1": account(model.UsageStats{TextQueries: 7, ImageQueries: 3}),
		}}
		ledger := newTestLedger(profiles, freeLimits())

		res := &model.UsageCheckResult{Allowed: true, UserID: "u1", Operation: model.OperationText, Current: 5}
		assert.True(t, ledger.IncrementUsage(context.Background(), res))

		// The write reflects the stored counters, not the stale check.
		assert.Equal(t, model.UsageStats{TextQueries: 8, ImageQueries: 3}, profiles.written["u1"])
	})

	t.Run("write failure returns false", func(t *testing.T) {
		profiles := &fakeProfiles{
			accounts: map[string]*model.UserAccount{"u1": account(model.UsageStats{})},
			writeErr: errors.New("store down"),
		}
		ledger := newTestLedger(profiles, freeLimits())

		res := &model.UsageCheckResult{Allowed: true, UserID: "u1", Operation: model.OperationText}
		assert.False(t, ledger.IncrementUsage(context.Background(), res))
	})

	t.Run("re-read failure returns false", func(t *testing.T) {
		ledger := newTestLedger(&fakeProfiles{getErr: errors.New("store down")}, freeLimits())

		res := &model.UsageCheckResult{Allowed: true, UserID: "u1", Operation: model.OperationImage}
		assert.False(t, ledger.IncrementUsage(context.Background(), res))
	})
}
