package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/model"
)

// ProfileStore is the narrow slice of the document store the ledger
// reads and writes.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.UserAccount, error)
	UpdateUsageStats(ctx context.Context, userID string, stats model.UsageStats) error
}

// PlanSource resolves plan limits reference data.
type PlanSource interface {
	GetPlanLimits(ctx context.Context, plan string) (*model.PlanLimits, error)
}

// Ledger enforces per-plan usage quotas. Check and increment are two
// independent read-modify-write round trips to the store: concurrent
// requests from one user can both pass the check and overshoot the
// limit by a small bounded margin. Approximate enforcement is the
// accepted design here; strict enforcement would need a transactional
// increment in the store.
type Ledger struct {
	profiles ProfileStore
	plans    PlanSource
	logger   *zap.Logger
}

// NewLedger creates a quota ledger.
func NewLedger(profiles ProfileStore, plans PlanSource, logger *zap.Logger) *Ledger {
	return &Ledger{
		profiles: profiles,
		plans:    plans,
		logger:   logger,
	}
}

// CheckUsageLimit reads the user's plan and counters and compares them
// against the plan's ceiling for the operation. Missing profile,
// unresolvable plan, unknown operation and exhausted quota all fail
// softly with Allowed=false and a human-readable message. Only a store
// transport failure is returned as an error. Nothing is mutated.
func (l *Ledger) CheckUsageLimit(ctx context.Context, userID string, op model.OperationType) (*model.UsageCheckResult, error) {
	if !op.IsValid() {
		return denied(userID, op, "Unknown operation type."), nil
	}

	account, err := l.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			return denied(userID, op, "User profile not found."), nil
		}
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	limits, err := l.plans.GetPlanLimits(ctx, account.Plan)
	if err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			l.logger.Warn("plan has no limits record",
				zap.String("user_id", userID),
				zap.String("plan", account.Plan))
			return denied(userID, op, fmt.Sprintf("Unable to resolve limits for the %s plan.", account.Plan)), nil
		}
		return nil, fmt.Errorf("fetch plan limits: %w", err)
	}

	stats, err := model.DecodeUsageStats(account.UsageStats)
	if err != nil {
		// Malformed counters degrade to zero usage rather than failing.
		l.logger.Warn("malformed usage stats blob",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	current := stats.Count(op)
	limit := limits.LimitFor(op)
	if current >= limit {
		return &model.UsageCheckResult{
			Allowed:   false,
			Message:   limitMessage(op, account.Plan),
			Limits:    *limits,
			Current:   current,
			UserID:    userID,
			Operation: op,
		}, nil
	}

	return &model.UsageCheckResult{
		Allowed:   true,
		Message:   fmt.Sprintf("You have used %d of %d %s generations this period.", current, limit, op),
		Limits:    *limits,
		Current:   current,
		UserID:    userID,
		Operation: op,
	}, nil
}

// IncrementUsage records one completed generation against the counter
// named by a prior successful check. The current counters are re-read
// to tolerate drift since the check, exactly one counter is bumped, and
// the full set is written back. Any failure returns false; callers log
// and keep the already-delivered result, accepting under-counting over
// denying delivered value.
func (l *Ledger) IncrementUsage(ctx context.Context, res *model.UsageCheckResult) bool {
	if res == nil || !res.Allowed || res.UserID == "" || !res.Operation.IsValid() {
		return false
	}

	account, err := l.profiles.GetProfile(ctx, res.UserID)
	if err != nil {
		l.logger.Error("usage increment: profile re-read failed",
			zap.String("user_id", res.UserID),
			zap.String("operation", string(res.Operation)),
			zap.Error(err))
		return false
	}

	stats, err := model.DecodeUsageStats(account.UsageStats)
	if err != nil {
		l.logger.Warn("usage increment: malformed counters, resetting",
			zap.String("user_id", res.UserID),
			zap.Error(err))
	}
	stats.Increment(res.Operation)

	if err := l.profiles.UpdateUsageStats(ctx, res.UserID, stats); err != nil {
		l.logger.Error("usage increment: write failed",
			zap.String("user_id", res.UserID),
			zap.String("operation", string(res.Operation)),
			zap.Error(err))
		return false
	}
	return true
}

func denied(userID string, op model.OperationType, message string) *model.UsageCheckResult {
	return &model.UsageCheckResult{
		Allowed:   false,
		Message:   message,
		UserID:    userID,
		Operation: op,
	}
}

func limitMessage(op model.OperationType, plan string) string {
	return fmt.Sprintf("You have reached your %s generation limit for the %s plan. Please upgrade to continue.", op, plan)
}
