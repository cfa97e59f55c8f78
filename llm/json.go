package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first complete JSON object in a model reply.
// Markdown fences and prose around the object are ignored.
func ExtractJSON(raw string) (string, error) {
	for off := 0; ; {
		i := strings.IndexByte(raw[off:], '{')
		if i < 0 {
			return "", errNoJSON
		}
		off += i
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(raw[off:])).Decode(&obj); err == nil {
			return string(bytes.TrimSpace(obj)), nil
		}
		off++
	}
}
