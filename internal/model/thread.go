package model

import "time"

// ShareAccess is the access level granted to a thread collaborator.
type ShareAccess string

const (
	ShareAccessRead  ShareAccess = "read"
	ShareAccessWrite ShareAccess = "write"
)

// IsValid reports whether the access level is known.
func (a ShareAccess) IsValid() bool {
	return a == ShareAccessRead || a == ShareAccessWrite
}

// ShareEntry records one collaborator grant on a thread.
type ShareEntry struct {
	UserID   string      `json:"userId"`
	Access   ShareAccess `json:"access"`
	SharedAt time.Time   `json:"sharedAt"`
}

// Thread is a chat thread document. ShareSettings is a JSON-encoded
// blob inside the document, mirrored into the document's permission
// list when sharing changes.
type Thread struct {
	ID            string    `json:"$id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	ShareSettings string    `json:"shareSettings"`
	CreatedAt     time.Time `json:"$createdAt,omitempty"`
	UpdatedAt     time.Time `json:"$updatedAt,omitempty"`
}

// DecodeShareSettings parses the share settings blob, degrading to an
// empty list on malformed data.
func DecodeShareSettings(raw string) ([]ShareEntry, error) {
	return decodeList[ShareEntry](raw)
}

// EncodeShareSettings serializes share entries for storage.
func EncodeShareSettings(entries []ShareEntry) string {
	return encodeList(entries)
}

// Message is one stored chat message belonging to a thread.
type Message struct {
	ID        string    `json:"$id"`
	ThreadID  string    `json:"threadId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"$createdAt,omitempty"`
}
