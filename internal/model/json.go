package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeList parses a JSON-encoded list blob, treating empty input as
// an empty list. Malformed input returns a nil list plus an error the
// caller logs; stored blobs never abort a request.
func decodeList[T any](raw string) ([]T, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode list blob: %w", err)
	}
	return items, nil
}

func encodeList[T any](items []T) string {
	if items == nil {
		items = []T{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}
