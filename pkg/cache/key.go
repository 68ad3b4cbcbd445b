package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KeySeparator joins the owner ID and the date range descriptor in the text form of a Key.
const KeySeparator = "_"

// dateLayout is the day format the insights API uses for explicit ranges.
const dateLayout = "2006-01-02"

// DateRange describes the reporting window of a query: either a named preset
// (e.g. "last_30d") or an explicit since/until pair of days.
type DateRange struct {
	// Preset is the API's date_preset value. Empty for explicit ranges.
	Preset string `json:"preset,omitempty"`

	// Since is the first day (YYYY-MM-DD) of an explicit range.
	Since string `json:"since,omitempty"`

	// Until is the last day (YYYY-MM-DD) of an explicit range.
	Until string `json:"until,omitempty"`
}

// PresetRange returns a DateRange for a named preset.
func PresetRange(preset string) DateRange {
	return DateRange{Preset: preset}
}

// ExplicitRange returns a DateRange covering since..until (inclusive).
func ExplicitRange(since, until time.Time) DateRange {
	return DateRange{Since: since.Format(dateLayout), Until: until.Format(dateLayout)}
}

// IsExplicit reports whether the range is a since/until pair.
func (r DateRange) IsExplicit() bool {
	return r.Preset == "" && r.Since != "" && r.Until != ""
}

// Descriptor renders the range as it appears in a cache key.
//
// Examples:
//
//	last_30d
//	2024-01-01_2024-01-31
func (r DateRange) Descriptor() string {
	if r.IsExplicit() {
		return r.Since + KeySeparator + r.Until
	}
	return r.Preset
}

// TimeRangeJSON renders the range in the API's time_range parameter format.
// Returns an empty string for presets.
func (r DateRange) TimeRangeJSON() string {
	if !r.IsExplicit() {
		return ""
	}
	data, _ := json.Marshal(struct {
		Since string `json:"since"`
		Until string `json:"until"`
	}{Since: r.Since, Until: r.Until})
	return string(data)
}

// Validate checks that the range is either a preset or a well-formed explicit range.
func (r DateRange) Validate() error {
	if r.Preset != "" {
		if r.Since != "" || r.Until != "" {
			return fmt.Errorf("date range cannot have both preset and since/until")
		}
		return nil
	}
	if r.Since == "" || r.Until == "" {
		return fmt.Errorf("date range requires a preset or both since and until")
	}
	since, err := time.Parse(dateLayout, r.Since)
	if err != nil {
		return fmt.Errorf("parse since %q: %w", r.Since, err)
	}
	until, err := time.Parse(dateLayout, r.Until)
	if err != nil {
		return fmt.Errorf("parse until %q: %w", r.Until, err)
	}
	if until.Before(since) {
		return fmt.Errorf("date range until %s is before since %s", r.Until, r.Since)
	}
	return nil
}

// ParseDateRange parses a key descriptor back into a DateRange.
// Two day tokens joined by the separator form an explicit range; anything else is a preset.
func ParseDateRange(descriptor string) (DateRange, error) {
	if descriptor == "" {
		return DateRange{}, fmt.Errorf("empty date range descriptor")
	}

	if since, until, ok := strings.Cut(descriptor, KeySeparator); ok && isDay(since) && isDay(until) {
		r := DateRange{Since: since, Until: until}
		if err := r.Validate(); err != nil {
			return DateRange{}, err
		}
		return r, nil
	}

	return DateRange{Preset: descriptor}, nil
}

func isDay(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// Key identifies one cached insights dataset across all tiers.
// It is derived from the owning ad account and the reporting window, and its text
// form is stable across restarts so that durable entries stay addressable.
type Key struct {
	// OwnerID is the ad account ID (without the "act_" prefix).
	OwnerID string `json:"owner_id"`

	// Range is the reporting window.
	Range DateRange `json:"range"`
}

// NewKey builds a key for a preset range.
func NewKey(ownerID, preset string) Key {
	return Key{OwnerID: ownerID, Range: PresetRange(preset)}
}

// String renders the key in its text form.
// Format: {ownerId}_{dateRangeDescriptor}
//
// Example:
//
//	1234567890_last_30d
func (k Key) String() string {
	return k.OwnerID + KeySeparator + k.Range.Descriptor()
}

// Validate checks that the key can round-trip through its text form.
func (k Key) Validate() error {
	if k.OwnerID == "" {
		return fmt.Errorf("cache key owner id is required")
	}
	if strings.Contains(k.OwnerID, KeySeparator) {
		return fmt.Errorf("cache key owner id %q must not contain %q", k.OwnerID, KeySeparator)
	}
	return k.Range.Validate()
}

// ParseKey parses the text form of a key. The owner ID ends at the first
// separator; every token after it belongs to the range descriptor.
func ParseKey(s string) (Key, error) {
	owner, descriptor, ok := strings.Cut(s, KeySeparator)
	if !ok || owner == "" || descriptor == "" {
		return Key{}, fmt.Errorf("invalid cache key %q: want {ownerId}%s{range}", s, KeySeparator)
	}

	r, err := ParseDateRange(descriptor)
	if err != nil {
		return Key{}, fmt.Errorf("invalid cache key %q: %w", s, err)
	}

	return Key{OwnerID: owner, Range: r}, nil
}
