package syncx

import (
	"errors"
	"testing"
)

func TestExtractRow(t *testing.T) {
	tests := []struct {
		name    string
		item    map[string]any
		wantID  string
		wantMs  int64
		wantErr error
	}{
		{
			name:   "string id with timestamp",
			item:   map[string]any{"id": "a-1", "updated_at": "2024-11-03T12:00:00Z"},
			wantID: "a-1",
			wantMs: 1730635200000,
		},
		{
			name:   "numeric id",
			item:   map[string]any{"id": float64(42)},
			wantID: "42",
		},
		{
			name:   "unparseable timestamp is ignored",
			item:   map[string]any{"id": "a-1", "updated_at": "yesterday"},
			wantID: "a-1",
		},
		{
			name:    "missing id",
			item:    map[string]any{"name": "Ana"},
			wantErr: ErrMissingID,
		},
		{
			name:    "empty id",
			item:    map[string]any{"id": ""},
			wantErr: ErrMissingID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractRow(tt.item)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExtractRow() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
			if got.ClientUpdatedMs != tt.wantMs {
				t.Errorf("ClientUpdatedMs = %d, want %d", got.ClientUpdatedMs, tt.wantMs)
			}
		})
	}
}

func TestParseTimeToMs(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"2024-11-03T12:00:00.123Z", 1730635200123, true},
		{"1730635200000", 1730635200000, true},
		{"", 0, false},
		{"not a time", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimeToMs(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseTimeToMs(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
