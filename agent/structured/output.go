package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError 描述一次解析失败，Raw 保留原始回复
type ParseError struct {
	Raw     string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

var fenceRe = regexp.MustCompile("(?s)^\\s*```[\\w+\\-]*[^\\n]*\\n(.*?)\\n?\\s*```\\s*$")

// StripCodeFence returns the body of a text wrapped in a single fenced block.
// Text without a surrounding fence is returned trimmed.
func StripCodeFence(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ParseJSON decodes text into T after stripping a code fence. When the body
// is not valid JSON the first balanced object inside it is tried. Every name
// in required must be present as a non-null top-level key.
func ParseJSON[T any](text string, required ...string) (T, error) {
	var zero T
	body := StripCodeFence(text)
	if body == "" {
		return zero, &ParseError{Raw: text, Message: "empty reply"}
	}
	if !json.Valid([]byte(body)) {
		obj, ok := ExtractJSONObject(body)
		if !ok {
			return zero, &ParseError{Raw: text, Message: "reply is not valid JSON"}
		}
		body = obj
	}

	if len(required) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return zero, &ParseError{Raw: text, Message: "reply is not a JSON object", Err: err}
		}
		var missing []string
		for _, name := range required {
			if v, ok := fields[name]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return zero, &ParseError{Raw: text, Message: "missing required fields: " + strings.Join(missing, ", ")}
		}
	}

	var out T
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return zero, &ParseError{Raw: text, Message: "decode reply", Err: err}
	}
	return out, nil
}

// ExtractJSONObject 返回文本中第一个括号平衡且合法的 JSON 对象
func ExtractJSONObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var suggestionRe = regexp.MustCompile(`建议为[:：]?\s*(.*?)[，,。\n]`)

// ExtractSuggestion returns the clause after "建议为". The clause ends at the
// first comma or full stop; a clause running to the end of text counts too.
func ExtractSuggestion(text string) (string, bool) {
	if m := suggestionRe.FindStringSubmatch(text); m != nil {
		s := strings.TrimSpace(m[1])
		return s, s != ""
	}
	idx := strings.Index(text, "建议为")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(text[idx+len("建议为"):], ":：")
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
