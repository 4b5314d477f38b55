package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/server/internal/model"
)

// CreateThread creates a thread document owned by the caller.
func (c *Client) CreateThread(ctx context.Context, ownerID, title string) (*model.Thread, error) {
	id := uuid.New().String()
	data := map[string]any{
		"ownerId":       ownerID,
		"title":         title,
		"shareSettings": "[]",
	}

	var thread model.Thread
	err := c.createDocument(ctx, c.collections.Threads, id, data, ownerPermissions(ownerID), &thread)
	if err != nil {
		return nil, err
	}
	if thread.ID == "" {
		thread.ID = id
	}
	return &thread, nil
}

// GetThread fetches a single thread document.
func (c *Client) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	var thread model.Thread
	if err := c.getDocument(ctx, c.collections.Threads, threadID, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListThreads returns the threads owned by a user, newest first.
func (c *Client) ListThreads(ctx context.Context, ownerID string) ([]*model.Thread, error) {
	queries := []string{
		fmt.Sprintf("equal(\"ownerId\", \"%s\")", ownerID),
		"orderDesc(\"$createdAt\")",
	}
	envelope, err := c.listDocuments(ctx, c.collections.Threads, queries)
	if err != nil {
		return nil, err
	}

	threads := make([]*model.Thread, 0, len(envelope.Documents))
	for _, raw := range envelope.Documents {
		var t model.Thread
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		threads = append(threads, &t)
	}
	return threads, nil
}

// DeleteThread removes a thread document. Messages are deleted
// separately by the caller.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.deleteDocument(ctx, c.collections.Threads, threadID)
}

// UpdateShareSettings writes the share entries blob and rebuilds the
// document permission list: the owner keeps full access, each grantee
// gets read and, for write access, update.
func (c *Client) UpdateShareSettings(ctx context.Context, thread *model.Thread, entries []model.ShareEntry) error {
	perms := ownerPermissions(thread.OwnerID)
	for _, e := range entries {
		perms = append(perms, readPermission(e.UserID))
		if e.Access == model.ShareAccessWrite {
			perms = append(perms, updatePermission(e.UserID))
		}
	}

	data := map[string]any{"shareSettings": model.EncodeShareSettings(entries)}
	return c.updateDocument(ctx, c.collections.Threads, thread.ID, data, perms, nil)
}

// AppendMessage stores one chat message under a thread.
func (c *Client) AppendMessage(ctx context.Context, threadID, role, content string, perms []string) (*model.Message, error) {
	id := uuid.New().String()
	data := map[string]any{
		"threadId":  threadID,
		"role":      role,
		"content":   content,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}

	var msg model.Message
	if err := c.createDocument(ctx, c.collections.Messages, id, data, perms, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = id
	}
	return &msg, nil
}

// ListMessages returns a thread's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]*model.Message, error) {
	queries := []string{
		fmt.Sprintf("equal(\"threadId\", \"%s\")", threadID),
		"orderAsc(\"$createdAt\")",
	}
	envelope, err := c.listDocuments(ctx, c.collections.Messages, queries)
	if err != nil {
		return nil, err
	}

	messages := make([]*model.Message, 0, len(envelope.Documents))
	for _, raw := range envelope.Documents {
		var m model.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, nil
}

// DeleteThreadMessages removes every message belonging to a thread.
func (c *Client) DeleteThreadMessages(ctx context.Context, threadID string) error {
	messages, err := c.ListMessages(ctx, threadID)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if err := c.deleteDocument(ctx, c.collections.Messages, m.ID); err != nil {
			return err
		}
	}
	return nil
}
