package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResponse extracts the key to string mapping from a model reply.
// Markdown code fences and text around the object are ignored; non-string
// values are skipped.
func ParseResponse(content string) (map[string]string, error) {
	content = stripFences(strings.TrimSpace(content))
	if content == "" {
		return nil, ErrEmptyResponse
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, ErrNotObject
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode provider reply: %w", err)
	}

	ret := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			ret[k] = s
		}
	}
	return ret, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
