package cache

import (
	"testing"
	"time"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "simple preset",
			key:  NewKey("1234567890", "yesterday"),
			want: "1234567890_yesterday",
		},
		{
			name: "preset containing separator",
			key:  NewKey("1234567890", "last_30d"),
			want: "1234567890_last_30d",
		},
		{
			name: "explicit range",
			key: Key{
				OwnerID: "42",
				Range: ExplicitRange(
					time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
				),
			},
			want: "42_2024-01-01_2024-01-31",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		owner    string
		rng      DateRange
		hasError bool
	}{
		{
			name:  "preset with underscores rejoined",
			input: "123_last_30d",
			owner: "123",
			rng:   DateRange{Preset: "last_30d"},
		},
		{
			name:  "single token preset",
			input: "123_today",
			owner: "123",
			rng:   DateRange{Preset: "today"},
		},
		{
			name:  "explicit range",
			input: "123_2024-03-01_2024-03-15",
			owner: "123",
			rng:   DateRange{Since: "2024-03-01", Until: "2024-03-15"},
		},
		{
			name:     "inverted explicit range",
			input:    "123_2024-03-15_2024-03-01",
			hasError: true,
		},
		{
			name:     "missing descriptor",
			input:    "123",
			hasError: true,
		},
		{
			name:     "empty owner",
			input:    "_last_7d",
			hasError: true,
		},
		{
			name:     "trailing separator",
			input:    "123_",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseKey(tt.input)
			if tt.hasError {
				if err == nil {
					t.Fatalf("ParseKey(%q) expected error, got %+v", tt.input, key)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", tt.input, err)
			}
			if key.OwnerID != tt.owner {
				t.Errorf("OwnerID = %q, want %q", key.OwnerID, tt.owner)
			}
			if key.Range != tt.rng {
				t.Errorf("Range = %+v, want %+v", key.Range, tt.rng)
			}
			if key.String() != tt.input {
				t.Errorf("round trip = %q, want %q", key.String(), tt.input)
			}
		})
	}
}

func TestKey_Validate(t *testing.T) {
	if err := NewKey("123", "last_7d").Validate(); err != nil {
		t.Errorf("valid key: unexpected error %v", err)
	}
	if err := NewKey("act_123", "last_7d").Validate(); err == nil {
		t.Error("owner id containing separator should be rejected")
	}
	if err := NewKey("", "last_7d").Validate(); err == nil {
		t.Error("empty owner id should be rejected")
	}
	if err := (Key{OwnerID: "1", Range: DateRange{Since: "2024-01-01"}}).Validate(); err == nil {
		t.Error("half-open explicit range should be rejected")
	}
	if err := (Key{OwnerID: "1", Range: DateRange{Preset: "x", Since: "2024-01-01", Until: "2024-01-02"}}).Validate(); err == nil {
		t.Error("preset combined with since/until should be rejected")
	}
}

func TestDateRange_TimeRangeJSON(t *testing.T) {
	r := DateRange{Since: "2024-01-01", Until: "2024-01-31"}
	want := `{"since":"2024-01-01","until":"2024-01-31"}`
	if got := r.TimeRangeJSON(); got != want {
		t.Errorf("TimeRangeJSON() = %s, want %s", got, want)
	}
	if got := PresetRange("last_7d").TimeRangeJSON(); got != "" {
		t.Errorf("preset TimeRangeJSON() = %q, want empty", got)
	}
}
