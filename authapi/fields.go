package authapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// normalizeFields flattens the shapes the auth service uses for validation
// details into field -> message. Accepted shapes: {"f": "msg"},
// {"f": ["msg", ...]} and ["msg", ...] (keyed by position).
func normalizeFields(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var byField map[string]any
	if err := json.Unmarshal(raw, &byField); err == nil {
		if len(byField) == 0 {
			return nil
		}
		out := make(map[string]string, len(byField))
		for k, v := range byField {
			out[k] = flatten(v)
		}
		return out
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		out := make(map[string]string, len(list))
		for i, v := range list {
			out[strconv.Itoa(i)] = flatten(v)
		}
		return out
	}
	return nil
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, flatten(p))
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
