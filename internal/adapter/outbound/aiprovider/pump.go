package aiprovider

import (
	"context"
	"io"

	"github.com/chatrelay/server/internal/model"
)

// pumpSSE drains a provider SSE body into a text stream. parse maps one
// event to a text fragment; io.EOF from parse marks a clean end of
// stream. The channel carries one chunk of buffering at most, is closed
// on completion, and carries a final Err chunk on a mid-stream read
// failure. Cancellation of ctx stops the pump.
func pumpSSE(ctx context.Context, body io.ReadCloser, parse func(*SSEEvent) (string, error)) model.TextStream {
	chunks := make(chan model.StreamChunk, 1)

	go func() {
		defer close(chunks)
		defer body.Close()

		parser := NewSSEParser(body)
		for {
			event, err := parser.Next()
			if err != nil {
				if err == io.EOF {
					return
				}
				select {
				case chunks <- model.StreamChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			fragment, err := parse(event)
			if err != nil {
				if err == io.EOF {
					return
				}
				// Unparseable events are skipped, not fatal.
				continue
			}
			if fragment == "" {
				continue
			}

			select {
			case chunks <- model.StreamChunk{Content: []byte(fragment)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks
}
