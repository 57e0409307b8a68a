package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ExtractObject parses a JSON object out of model output. Markdown code
// fences and surrounding prose are tolerated: after stripping fences, the
// span from the first '{' to the last '}' is tried. Returns an empty map
// when no object can be parsed.
func ExtractObject(text string) map[string]any {
	cleaned := stripFences(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{}
}

// ExtractList parses a JSON array of strings out of model output, with
// the same tolerance as ExtractObject. Non-string elements are rendered
// with their string value; blank entries are dropped.
func ExtractList(text string) []string {
	cleaned := stripFences(text)

	if list, ok := parseStringList(cleaned); ok {
		return list
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start >= 0 && end > start {
		if list, ok := parseStringList(cleaned[start : end+1]); ok {
			return list
		}
	}
	return nil
}

// StringField reads a string-valued field, trimming whitespace and
// rendering non-string scalars (the model sometimes returns years as
// numbers).
func StringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// Years come back as numbers sometimes.
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(data), `"`)
	}
}

// FloatField reads a numeric field, accepting number or numeric string.
func FloatField(obj map[string]any, key string) float64 {
	switch t := obj[key].(type) {
	case float64:
		return t
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(t)), &f); err == nil {
			return f
		}
	}
	return 0
}

func parseStringList(text string) ([]string, bool) {
	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = string(data)
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
