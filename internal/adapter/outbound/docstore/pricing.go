package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/model"
)

const planLimitsCacheTTL = 5 * time.Minute

// PricingStore resolves plan limits from the pricing collection,
// fronted by an optional Redis cache. Limits are immutable reference
// data, so a short TTL is enough.
type PricingStore struct {
	client *Client
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewPricingStore creates a pricing store. redisClient may be nil, in
// which case every lookup goes to the document store.
func NewPricingStore(client *Client, redisClient redis.UniversalClient, logger *zap.Logger) *PricingStore {
	return &PricingStore{
		client: client,
		redis:  redisClient,
		logger: logger,
	}
}

// GetPlanLimits returns the limits record for a plan. The plan name is
// the pricing document ID. ErrDocumentNotFound means the plan does not
// resolve against reference data.
func (s *PricingStore) GetPlanLimits(ctx context.Context, plan string) (*model.PlanLimits, error) {
	if limits := s.fromCache(ctx, plan); limits != nil {
		return limits, nil
	}

	var limits model.PlanLimits
	if err := s.client.getDocument(ctx, s.client.collections.Pricing, plan, &limits); err != nil {
		return nil, err
	}
	if limits.Plan == "" {
		limits.Plan = plan
	}

	s.toCache(ctx, plan, &limits)
	return &limits, nil
}

func (s *PricingStore) fromCache(ctx context.Context, plan string) *model.PlanLimits {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, planLimitsKey(plan)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// Cache errors degrade to a store lookup.
			s.logger.Warn("plan limits cache read failed", zap.Error(err), zap.String("plan", plan))
		}
		return nil
	}
	var limits model.PlanLimits
	if err := json.Unmarshal(data, &limits); err != nil {
		s.logger.Warn("plan limits cache entry corrupt", zap.Error(err), zap.String("plan", plan))
		return nil
	}
	return &limits
}

func (s *PricingStore) toCache(ctx context.Context, plan string, limits *model.PlanLimits) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(limits)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, planLimitsKey(plan), data, planLimitsCacheTTL).Err(); err != nil {
		s.logger.Warn("plan limits cache write failed", zap.Error(err), zap.String("plan", plan))
	}
}

func planLimitsKey(plan string) string {
	return fmt.Sprintf("pricing:limits:%s", plan)
}
