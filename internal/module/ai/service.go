package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/aiprovider"
	"github.com/chatrelay/server/internal/model"
	"github.com/chatrelay/server/internal/module/billing/quota"
	apperrors "github.com/chatrelay/server/internal/shared/errors"
)

// ThreadAppender persists chat messages under a thread, best effort.
type ThreadAppender interface {
	AppendUserMessage(ctx context.Context, threadID, userID, content string) error
	AppendImageResult(ctx context.Context, threadID, userID string, images []model.ImagePayload) error
}

// Service is the generation dispatcher. It orchestrates quota checking,
// credential resolution, provider selection and invocation; every
// failure is mapped to the error taxonomy before it leaves the service,
// so no provider or store detail ever reaches a client body.
type Service struct {
	ledger      *quota.Ledger
	credentials *CredentialResolver
	registry    *aiprovider.Registry
	threads     ThreadAppender
	logger      *zap.Logger
}

// NewService creates a dispatcher service. threads may be nil.
func NewService(ledger *quota.Ledger, credentials *CredentialResolver, registry *aiprovider.Registry, threads ThreadAppender, logger *zap.Logger) *Service {
	return &Service{
		ledger:      ledger,
		credentials: credentials,
		registry:    registry,
		threads:     threads,
		logger:      logger,
	}
}

// prepare runs the shared front half of every dispatch: quota check,
// credential resolution, adapter selection and capability check.
func (s *Service) prepare(ctx context.Context, req *model.GenerationRequest, cap aiprovider.Capability) (aiprovider.Adapter, string, *model.UsageCheckResult, *apperrors.AppError) {
	op := req.Operation()

	check, err := s.ledger.CheckUsageLimit(ctx, req.UserID, op)
	if err != nil {
		s.logger.Error("quota check failed",
			zap.String("user_id", req.UserID),
			zap.String("operation", string(op)),
			zap.Error(err))
		return nil, "", nil, apperrors.Store(err)
	}
	if !check.Allowed {
		return nil, "", nil, apperrors.QuotaExceeded(check.Message)
	}

	apiKey, err := s.credentials.ResolveAPIKey(ctx, req.UserID, req.Provider)
	if err != nil {
		s.logger.Error("credential resolution failed",
			zap.String("user_id", req.UserID),
			zap.String("provider", string(req.Provider)),
			zap.Error(err))
		return nil, "", nil, apperrors.Store(err)
	}
	if apiKey == "" {
		return nil, "", nil, apperrors.NewAppError(
			"NO_API_KEY",
			fmt.Sprintf("No API key found for %s. Please add one in settings.", req.Provider),
			401,
			apperrors.ErrUnauthorized,
		)
	}

	adapter := s.registry.Resolve(req.Provider)
	if adapter == nil {
		return nil, "", nil, apperrors.Upstream("", fmt.Errorf("no adapter registered for provider %q", req.Provider))
	}
	if !adapter.SupportsCapability(cap) {
		return nil, "", nil, apperrors.UnsupportedCapability(
			fmt.Sprintf("Provider %s does not support %s generation.", adapter.Name(), cap))
	}

	return adapter, apiKey, check, nil
}

// GenerateImage runs the image generation path: the provider is invoked
// synchronously, usage is incremented best-effort, and the full payload
// list plus a usage summary is returned.
func (s *Service) GenerateImage(ctx context.Context, req *model.GenerationRequest) (*model.ImageResponse, *apperrors.AppError) {
	adapter, apiKey, check, appErr := s.prepare(ctx, req, aiprovider.CapabilityImage)
	if appErr != nil {
		return nil, appErr
	}

	images, err := adapter.GenerateImage(ctx, &aiprovider.ImageRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
	}, apiKey)
	if err != nil {
		s.logger.Error("image generation failed",
			zap.String("user_id", req.UserID),
			zap.String("provider", string(adapter.Name())),
			zap.String("model", req.Model),
			zap.Error(err))
		if errors.Is(err, aiprovider.ErrUnsupportedCapability) {
			return nil, apperrors.UnsupportedCapability(
				fmt.Sprintf("Provider %s does not support image generation.", adapter.Name()))
		}
		if errors.Is(err, aiprovider.ErrNoImageReturned) {
			return nil, apperrors.Upstream("The AI model did not return an image.", err)
		}
		return nil, apperrors.Upstream("", err)
	}

	s.appendUserMessage(ctx, req, req.Prompt)
	s.appendImageResult(ctx, req, images)

	return &model.ImageResponse{
		Images: images,
		Usage:  s.recordUsage(ctx, check),
	}, nil
}

// StreamChat runs the text generation path. The returned stream is live
// as soon as the provider has accepted the call; usage is incremented
// concurrently with streaming and its outcome never affects the
// in-flight stream.
func (s *Service) StreamChat(ctx context.Context, req *model.GenerationRequest) (model.TextStream, *model.UsageSummary, *apperrors.AppError) {
	adapter, apiKey, check, appErr := s.prepare(ctx, req, aiprovider.CapabilityChat)
	if appErr != nil {
		return nil, nil, appErr
	}

	stream, err := adapter.StreamText(ctx, &aiprovider.TextRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}, apiKey)
	if err != nil {
		s.logger.Error("chat stream start failed",
			zap.String("user_id", req.UserID),
			zap.String("provider", string(adapter.Name())),
			zap.String("model", req.Model),
			zap.Error(err))
		if errors.Is(err, aiprovider.ErrUnsupportedCapability) {
			return nil, nil, apperrors.UnsupportedCapability(
				fmt.Sprintf("Provider %s does not support chat generation.", adapter.Name()))
		}
		return nil, nil, apperrors.Upstream("", err)
	}

	if len(req.Messages) > 0 {
		s.appendUserMessage(ctx, req, req.Messages[len(req.Messages)-1].Content)
	}

	// The upstream call is accepted; record usage concurrently with
	// streaming. WithoutCancel keeps the write alive if the client drops
	// mid-stream. The summary is optimistic: it assumes the increment
	// lands, and a miss is only logged.
	go func(recordCtx context.Context) {
		if !s.ledger.IncrementUsage(recordCtx, check) {
			s.logger.Warn("usage not recorded",
				zap.String("user_id", check.UserID),
				zap.String("operation", string(check.Operation)))
		}
	}(context.WithoutCancel(ctx))

	limit := check.Limits.LimitFor(check.Operation)
	summary := model.UsageSummary{
		Current: check.Current + 1,
		Limit:   limit,
		Message: fmt.Sprintf("You have used %d of %d %s generations this period.", check.Current+1, limit, check.Operation),
	}
	return stream, &summary, nil
}

// recordUsage increments the counter named by the check result. Failure
// is logged and reflected in the summary's current count; the finished
// generation is never rolled back over a missed increment.
func (s *Service) recordUsage(ctx context.Context, check *model.UsageCheckResult) model.UsageSummary {
	current := check.Current
	if s.ledger.IncrementUsage(ctx, check) {
		current++
	} else {
		s.logger.Warn("usage not recorded",
			zap.String("user_id", check.UserID),
			zap.String("operation", string(check.Operation)))
	}

	limit := check.Limits.LimitFor(check.Operation)
	return model.UsageSummary{
		Current: current,
		Limit:   limit,
		Message: fmt.Sprintf("You have used %d of %d %s generations this period.", current, limit, check.Operation),
	}
}

// appendUserMessage persists the inbound message under the request's
// thread, best effort.
func (s *Service) appendUserMessage(ctx context.Context, req *model.GenerationRequest, content string) {
	if s.threads == nil || req.ThreadID == "" || req.IsEdit || content == "" {
		return
	}
	if err := s.threads.AppendUserMessage(ctx, req.ThreadID, req.UserID, content); err != nil {
		s.logger.Warn("message persistence failed",
			zap.String("thread_id", req.ThreadID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
	}
}

// appendImageResult persists generated images as an assistant message
// under the request's thread, best effort. Text results are written by
// the client after the stream ends; image results only exist here.
func (s *Service) appendImageResult(ctx context.Context, req *model.GenerationRequest, images []model.ImagePayload) {
	if s.threads == nil || req.ThreadID == "" || len(images) == 0 {
		return
	}
	if err := s.threads.AppendImageResult(ctx, req.ThreadID, req.UserID, images); err != nil {
		s.logger.Warn("image result persistence failed",
			zap.String("thread_id", req.ThreadID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
	}
}
