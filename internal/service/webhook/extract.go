package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NoContentReply is shown when the workflow answers 2xx with an empty body.
const NoContentReply = "Workflow executed successfully, but returned no content."

// replyFields are checked in order; the first truthy one wins.
var replyFields = []string{"output", "response", "message", "text"}

// Extract normalizes a successful webhook body into display text.
//
// Non-JSON bodies are returned verbatim. For an array the first element is
// inspected, for an object the object itself: the first truthy reply field is
// returned, falling back to the compact JSON of the value. Primitives are
// returned in their string form.
func Extract(body string) string {
	if strings.TrimSpace(body) == "" {
		return NoContentReply
	}

	raw := bytes.TrimSpace([]byte(body))
	if !json.Valid(raw) {
		return body
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return body
		}
		if len(items) == 0 {
			return compact(raw)
		}
		return extractElement(items[0], body)
	case '{':
		if reply, ok := pickField(raw); ok {
			return reply
		}
		return compact(raw)
	case '"':
		return unquote(raw)
	default:
		return scalar(raw)
	}
}

func extractElement(first json.RawMessage, body string) string {
	first = bytes.TrimSpace(first)
	switch first[0] {
	case 'n':
		// a null head element has no fields to look at; keep the body as sent
		return body
	case '{':
		if reply, ok := pickField(first); ok {
			return reply
		}
		return compact(first)
	case '"':
		return unquote(first)
	case '[':
		return compact(first)
	default:
		return scalar(first)
	}
}

func pickField(obj json.RawMessage) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return "", false
	}

	for _, name := range replyFields {
		value, ok := fields[name]
		if !ok || !truthy(value) {
			continue
		}
		value = bytes.TrimSpace(value)
		switch value[0] {
		case '"':
			return unquote(value), true
		case '{', '[':
			return compact(value), true
		default:
			return scalar(value), true
		}
	}
	return "", false
}

func truthy(value json.RawMessage) bool {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return false
	}

	switch value[0] {
	case 'n', 'f':
		return false
	case '"':
		return unquote(value) != ""
	case '{', '[', 't':
		return true
	default:
		n, err := strconv.ParseFloat(string(value), 64)
		return err != nil || n != 0
	}
}

func unquote(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return string(value)
	}
	return s
}

func compact(value json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return string(value)
	}
	return buf.String()
}

// scalar renders a JSON number, boolean or null the way a browser prints it.
func scalar(value json.RawMessage) string {
	if c := value[0]; c == '-' || (c >= '0' && c <= '9') {
		return formatNumber(string(value))
	}
	return string(value)
}

// formatNumber prints the shortest decimal form, switching to exponent
// notation below 1e-6 and from 1e21 on ("1e+21", "1.5e-7").
func formatNumber(raw string) string {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	if f == 0 {
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
