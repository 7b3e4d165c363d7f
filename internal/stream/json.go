package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

func unmarshalJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("stream: decoding response: %w", err)
	}
	return nil
}

// cursorValueMs reads cursorField from record and converts it to epoch
// milliseconds, per §4.7's getUpdatedState contract: `cutoff =
// max(current.cutoff, epoch_ms(record[cursorField]))`. Klaviyo's own
// timestamps are RFC3339 strings.
func cursorValueMs(record map[string]any, cursorField string) (int64, bool) {
	raw, ok := record[cursorField]
	if !ok {
		return 0, false
	}
	s, ok := raw.(string)
	if !ok {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
