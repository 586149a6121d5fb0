package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoArray indicates the model output holds no JSON array at all.
var ErrNoArray = errors.New("response does not contain a JSON array")

const fence = "```"

// ParseJSONArray decodes the JSON array in model output into target, which
// must point to a slice. It strips a fenced code block with an optional
// language tag, skips any prose before the first '[' and ignores anything
// after the array ends.
func ParseJSONArray(content string, target any) error {
	text := unfence(strings.TrimSpace(content))

	if !strings.HasPrefix(text, "[") {
		start := strings.IndexByte(text, '[')
		if start == -1 {
			return ErrNoArray
		}
		text = text[start:]
	}

	if err := json.NewDecoder(strings.NewReader(text)).Decode(target); err != nil {
		return fmt.Errorf("decode json array: %w", err)
	}
	return nil
}

func unfence(text string) string {
	start := strings.Index(text, fence)
	if start == -1 {
		return text
	}
	end := strings.LastIndex(text, fence)
	if end <= start {
		return text
	}

	inner := strings.TrimSpace(text[start+len(fence) : end])
	// A first line without JSON punctuation is a language tag.
	if nl := strings.IndexByte(inner, '\n'); nl != -1 && !strings.ContainsAny(inner[:nl], "[{") {
		inner = strings.TrimSpace(inner[nl:])
	}
	return inner
}
