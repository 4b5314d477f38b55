package model

// ChatMessage is one entry of a conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationIntent selects the generation path for a request.
type GenerationIntent string

const (
	IntentChat  GenerationIntent = "chat"
	IntentImage GenerationIntent = "image"
)

// GenerationRequest is one inbound generation call. Exactly one of
// Messages (chat intent) or Prompt (image intent) carries the input.
type GenerationRequest struct {
	UserID   string           `json:"userId"`
	ThreadID string           `json:"threadId,omitempty"`
	Provider ProviderName     `json:"provider"`
	Model    string           `json:"model"`
	Intent   GenerationIntent `json:"intent,omitempty"`
	Messages []ChatMessage    `json:"messages,omitempty"`
	Prompt   string           `json:"prompt,omitempty"`
	IsEdit   bool             `json:"isEdit,omitempty"`
}

// Operation maps the request intent to the metered operation type.
// Absent intent means chat.
func (r *GenerationRequest) Operation() OperationType {
	if r.Intent == IntentImage {
		return OperationImage
	}
	return OperationText
}

// ImagePayload is one generated image, binary content encoded as text.
type ImagePayload struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
}

// EncodeImagePayloads serializes generated images for message storage.
func EncodeImagePayloads(images []ImagePayload) string {
	return encodeList(images)
}

// DecodeImagePayloads parses a stored image message blob.
func DecodeImagePayloads(raw string) ([]ImagePayload, error) {
	return decodeList[ImagePayload](raw)
}

// UsageSummary is the usage echo attached to successful responses.
type UsageSummary struct {
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
	Message string `json:"message"`
}

// ImageResponse is the JSON body of a successful image generation.
type ImageResponse struct {
	Images []ImagePayload `json:"images"`
	Usage  UsageSummary   `json:"usage"`
}

// StreamChunk is one element of a provider's token stream. A chunk
// carries either Content bytes or a terminal Err; the producing channel
// is closed on clean end-of-stream.
type StreamChunk struct {
	Content []byte
	Err     error
}

// TextStream is a lazy, single-pass token stream. The channel carries
// at most one chunk of buffering; it is closed when the source ends.
type TextStream <-chan StreamChunk
