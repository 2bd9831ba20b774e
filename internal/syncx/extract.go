package syncx

import (
	"errors"
	"strconv"
	"time"
)

// ErrMissingID indicates a pushed record without a usable id
var ErrMissingID = errors.New("missing or invalid id")

// Extracted contains the sync metadata of a pushed record
type Extracted struct {
	ID              string
	ClientUpdatedMs int64 // from the record's updated_at, 0 if absent
}

// GetString safely extracts a string value from a map
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// ParseTimeToMs converts various time formats to Unix milliseconds
// Accepts: RFC3339, numeric milliseconds (as string), empty (returns 0)
func ParseTimeToMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}

// ExtractRow parses sync metadata from a pushed record.
// Numeric ids are accepted and rendered in decimal.
func ExtractRow(item map[string]any) (Extracted, error) {
	var out Extracted

	switch id := item["id"].(type) {
	case string:
		out.ID = id
	case float64:
		out.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	if out.ID == "" {
		return out, ErrMissingID
	}

	if s, ok := GetString(item, "updated_at"); ok {
		if ms, ok2 := ParseTimeToMs(s); ok2 {
			out.ClientUpdatedMs = ms
		}
	}

	return out, nil
}
