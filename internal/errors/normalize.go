package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnknownError is returned when no readable detail can be extracted.
const UnknownError = "Unknown error (unable to extract details)"

// maxDescribeJSON bounds the JSON fallback rendering.
const maxDescribeJSON = 500

// messageFields are consulted in order on object-shaped errors.
var messageFields = []string{"message", "error", "details", "description", "msg", "statusText"}

// Describe turns an arbitrary error value into one readable string.
// It never panics; values it cannot interpret yield UnknownError.
func Describe(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = UnknownError
		}
	}()

	switch val := v.(type) {
	case nil:
		return UnknownError
	case error:
		if msg := strings.TrimSpace(val.Error()); msg != "" {
			return msg
		}
	case string:
		if strings.TrimSpace(val) != "" {
			return val
		}
		return UnknownError
	case fmt.Stringer:
		if msg := strings.TrimSpace(val.String()); msg != "" {
			return msg
		}
	}

	fields := asMap(v)
	if fields != nil {
		if msg := messageFrom(fields, 0); msg != "" {
			return msg
		}
		if msg := synthesize(fields); msg != "" {
			return msg
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return UnknownError
	}
	s := string(raw)
	if s == "{}" || s == "null" || s == `""` || len(s) > maxDescribeJSON {
		return UnknownError
	}
	return s
}

// asMap views v as a JSON object, or returns nil.
func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func messageFrom(fields map[string]any, depth int) string {
	for _, key := range messageFields {
		switch val := fields[key].(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return val
			}
		case map[string]any:
			// {"error": {"message": "..."}} as returned by Stripe and most functions
			if depth < 2 {
				if msg := messageFrom(val, depth+1); msg != "" {
					return msg
				}
			}
		}
	}
	return ""
}

func synthesize(fields map[string]any) string {
	var parts []string
	if s := firstScalar(fields, "status", "statusCode", "code"); s != "" {
		parts = append(parts, "Status: "+s)
	}
	if s := firstScalar(fields, "endpoint", "url"); s != "" {
		parts = append(parts, "Endpoint: "+s)
	}
	if s := firstScalar(fields, "type", "name", "kind"); s != "" {
		parts = append(parts, "Type: "+s)
	}
	return strings.Join(parts, ", ")
}

func firstScalar(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		switch val := fields[key].(type) {
		case string:
			if val != "" {
				return val
			}
		case float64, int, int64, bool:
			return fmt.Sprint(val)
		}
	}
	return ""
}
