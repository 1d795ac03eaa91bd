package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalNames converts a name list to JSON TEXT.
// HTML escaping is disabled so names containing '<' or '&' stay readable.
func marshalNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(names); err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalNames parses JSON TEXT written by marshalNames.
func unmarshalNames(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}
