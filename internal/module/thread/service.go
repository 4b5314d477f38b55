package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/model"
	apperrors "github.com/chatrelay/server/internal/shared/errors"
)

// Store is the document store surface the thread module uses.
type Store interface {
	CreateThread(ctx context.Context, ownerID, title string) (*model.Thread, error)
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
	ListThreads(ctx context.Context, ownerID string) ([]*model.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	UpdateShareSettings(ctx context.Context, thread *model.Thread, entries []model.ShareEntry) error
	AppendMessage(ctx context.Context, threadID, role, content string, perms []string) (*model.Message, error)
	ListMessages(ctx context.Context, threadID string) ([]*model.Message, error)
	DeleteThreadMessages(ctx context.Context, threadID string) error
}

// Service implements thread CRUD and sharing on top of the document
// store. Access control mirrors the store's permission lists: the owner
// holds full access, grantees what their share entry says.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a thread service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create creates a thread owned by the caller.
func (s *Service) Create(ctx context.Context, ownerID, title string) (*model.Thread, error) {
	if title == "" {
		title = "New thread"
	}
	thread, err := s.store.CreateThread(ctx, ownerID, title)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return thread, nil
}

// Get returns a thread with its messages for the caller.
func (s *Service) Get(ctx context.Context, callerID, threadID string) (*model.Thread, []*model.Message, error) {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	if !s.canRead(thread, callerID) {
		return nil, nil, apperrors.Forbidden("")
	}

	messages, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, nil, apperrors.Store(err)
	}
	return thread, messages, nil
}

// List returns the caller's own threads.
func (s *Service) List(ctx context.Context, callerID string) ([]*model.Thread, error) {
	threads, err := s.store.ListThreads(ctx, callerID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return threads, nil
}

// Delete removes a thread and its messages. Owner only.
func (s *Service) Delete(ctx context.Context, callerID, threadID string) error {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.OwnerID != callerID {
		return apperrors.Forbidden("only the owner can delete a thread")
	}

	if err := s.store.DeleteThreadMessages(ctx, threadID); err != nil {
		return apperrors.Store(err)
	}
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

// Share grants a user access to a thread. Owner only; one entry per
// grantee, re-sharing replaces the previous access level.
func (s *Service) Share(ctx context.Context, callerID, threadID, granteeID string, access model.ShareAccess) (*model.Thread, error) {
	if granteeID == "" {
		return nil, apperrors.BadRequest("grantee user ID is required")
	}
	if !access.IsValid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid access level %q", access))
	}

	thread, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.OwnerID != callerID {
		return nil, apperrors.Forbidden("only the owner can share a thread")
	}
	if granteeID == thread.OwnerID {
		return nil, apperrors.BadRequest("cannot share a thread with its owner")
	}

	entries := s.shareEntries(thread)
	replaced := false
	for i, e := range entries {
		if e.UserID == granteeID {
			entries[i].Access = access
			entries[i].SharedAt = time.Now().UTC()
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, model.ShareEntry{
			UserID:   granteeID,
			Access:   access,
			SharedAt: time.Now().UTC(),
		})
	}

	if err := s.store.UpdateShareSettings(ctx, thread, entries); err != nil {
		return nil, apperrors.Store(err)
	}
	thread.ShareSettings = model.EncodeShareSettings(entries)
	return thread, nil
}

// Unshare revokes a user's access to a thread. Owner only.
func (s *Service) Unshare(ctx context.Context, callerID, threadID, granteeID string) error {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.OwnerID != callerID {
		return apperrors.Forbidden("only the owner can revoke sharing")
	}

	entries := s.shareEntries(thread)
	kept := entries[:0]
	found := false
	for _, e := range entries {
		if e.UserID == granteeID {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return apperrors.NotFound("share grant")
	}

	if err := s.store.UpdateShareSettings(ctx, thread, kept); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

// AppendUserMessage persists one user message under a thread, carrying
// the thread's current permission list. Used by the generation
// dispatcher.
func (s *Service) AppendUserMessage(ctx context.Context, threadID, userID, content string) error {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}
	if !s.canWrite(thread, userID) {
		return apperrors.Forbidden("")
	}

	perms := messagePermissions(thread, s.shareEntries(thread))
	if _, err := s.store.AppendMessage(ctx, threadID, "user", content, perms); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

// AppendImageResult persists generated images as one assistant message
// under a thread. The encoded image list is the message content.
func (s *Service) AppendImageResult(ctx context.Context, threadID, userID string, images []model.ImagePayload) error {
	thread, err := s.load(ctx, threadID)
	if err != nil {
		return err
	}
	if !s.canWrite(thread, userID) {
		return apperrors.Forbidden("")
	}

	perms := messagePermissions(thread, s.shareEntries(thread))
	if _, err := s.store.AppendMessage(ctx, threadID, "assistant", model.EncodeImagePayloads(images), perms); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, threadID string) (*model.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			return nil, apperrors.NotFound("thread")
		}
		return nil, apperrors.Store(err)
	}
	return thread, nil
}

func (s *Service) shareEntries(thread *model.Thread) []model.ShareEntry {
	entries, err := model.DecodeShareSettings(thread.ShareSettings)
	if err != nil {
		s.logger.Warn("malformed share settings blob",
			zap.String("thread_id", thread.ID),
			zap.Error(err))
	}
	return entries
}

func (s *Service) canRead(thread *model.Thread, userID string) bool {
	if thread.OwnerID == userID {
		return true
	}
	for _, e := range s.shareEntries(thread) {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Service) canWrite(thread *model.Thread, userID string) bool {
	if thread.OwnerID == userID {
		return true
	}
	for _, e := range s.shareEntries(thread) {
		if e.UserID == userID && e.Access == model.ShareAccessWrite {
			return true
		}
	}
	return false
}

// messagePermissions mirrors the thread's grants onto a new message.
func messagePermissions(thread *model.Thread, entries []model.ShareEntry) []string {
	perms := []string{
		fmt.Sprintf("read(\"user:%s\")", thread.OwnerID),
		fmt.Sprintf("update(\"user:%s\")", thread.OwnerID),
		fmt.Sprintf("delete(\"user:%s\")", thread.OwnerID),
	}
	for _, e := range entries {
		perms = append(perms, fmt.Sprintf("read(\"user:%s\")", e.UserID))
	}
	return perms
}
