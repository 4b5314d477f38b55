package aiprovider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SSEEvent represents a Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
}

// SSEParser parses SSE streams.
type SSEParser struct {
	reader *bufio.Reader
}

// NewSSEParser creates a new SSE parser.
func NewSSEParser(r io.Reader) *SSEParser {
	return &SSEParser{
		reader: bufio.NewReader(r),
	}
}

// Next reads the next SSE event.
func (p *SSEParser) Next() (*SSEEvent, error) {
	event := &SSEEvent{}
	var dataLines []string

	for {
		line, err := p.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 || event.Event != "" {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}

		// Comment line
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}

		field, value := parseSSELine(line)
		switch field {
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			event.ID = value
		}
	}
}

// parseSSELine parses a single SSE line into field and value.
func parseSSELine(line []byte) (field, value string) {
	if idx := bytes.IndexByte(line, ':'); idx >= 0 {
		field = string(line[:idx])
		value = string(bytes.TrimPrefix(line[idx+1:], []byte(" ")))
	} else {
		field = string(line)
	}
	return
}

// parseOpenAIChunk extracts the text delta from an OpenAI stream chunk.
// io.EOF signals the [DONE] sentinel.
func parseOpenAIChunk(data string) (string, error) {
	if data == "[DONE]" {
		return "", io.EOF
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", fmt.Errorf("parse openai chunk: %w", err)
	}

	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// parseAnthropicEvent extracts the text delta from an Anthropic stream
// event. io.EOF signals message_stop.
func parseAnthropicEvent(data string) (string, error) {
	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return "", fmt.Errorf("parse anthropic event: %w", err)
	}

	switch event.Type {
	case "content_block_delta":
		return event.Delta.Text, nil
	case "message_stop":
		return "", io.EOF
	default:
		// ping, message_start, content_block_start and friends
		return "", nil
	}
}

// parseGoogleChunk extracts the text delta from a Gemini stream chunk.
func parseGoogleChunk(data string) (string, error) {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", fmt.Errorf("parse google chunk: %w", err)
	}

	if len(chunk.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range chunk.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
