package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FromJSON decodes exported history. Both {"items":[...]} and a bare array
// are accepted.
func FromJSON(raw []byte) ([]any, error) {
	if len(raw) == 0 {
		return nil, errors.New("transcript: empty history document")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("transcript: decode history: %w", err)
	}
	switch d := doc.(type) {
	case []any:
		return d, nil
	case map[string]any:
		items, ok := d["items"].([]any)
		if !ok {
			return nil, errors.New("transcript: history document has no items array")
		}
		return items, nil
	default:
		return nil, fmt.Errorf("transcript: unexpected history document %T", doc)
	}
}
