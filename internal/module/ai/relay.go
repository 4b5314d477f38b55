package ai

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/model"
)

// Relay forwards a provider token stream to a client connection in
// arrival order, one chunk at a time, with no transformation and no
// buffering beyond the stream channel itself.
type Relay struct {
	logger *zap.Logger
}

// NewRelay creates a stream relay.
func NewRelay(logger *zap.Logger) *Relay {
	return &Relay{logger: logger}
}

// Pump writes the stream to w. Response metadata, including the usage
// summary, is set before the first chunk. On clean end-of-stream the
// connection closes with no trailing bytes. On a source error Pump
// panics with http.ErrAbortHandler so the server drops the connection
// without the terminating chunk; clients detect the truncated body. A
// failing write or a done context means the client is gone and is
// treated as a non-error termination.
func (r *Relay) Pump(ctx context.Context, w http.ResponseWriter, stream model.TextStream, usage *model.UsageSummary) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	if usage != nil {
		if data, err := json.Marshal(usage); err == nil {
			w.Header().Set("X-Usage", string(data))
		}
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if chunk.Err != nil {
				r.logger.Error("upstream stream error", zap.Error(chunk.Err))
				panic(http.ErrAbortHandler)
			}
			if _, err := w.Write(chunk.Content); err != nil {
				// Client closed the connection.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
