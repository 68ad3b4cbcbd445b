package insights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// DefaultFields is the field list requested when the caller names none.
var DefaultFields = []string{
	"account_id",
	"campaign_id",
	"campaign_name",
	"adset_id",
	"adset_name",
	"ad_id",
	"ad_name",
	"date_start",
	"date_stop",
	"impressions",
	"reach",
	"clicks",
	"spend",
	"cpc",
	"cpm",
	"ctr",
	"frequency",
	"actions",
}

// Number is a float the API may encode either as a JSON number or as a numeric string.
type Number float64

// UnmarshalJSON accepts 12.5 as well as "12.5".
func (n *Number) UnmarshalJSON(data []byte) error {
	f, err := parseNumeric(data)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Count is an integer the API may encode either as a JSON number or as a numeric string.
type Count int64

// UnmarshalJSON accepts 42 as well as "42".
func (c *Count) UnmarshalJSON(data []byte) error {
	f, err := parseNumeric(data)
	if err != nil {
		return err
	}
	*c = Count(f)
	return nil
}

func parseNumeric(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return 0, nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("numeric string %q: %w", s, err)
		}
		return f, nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// Action is one entry of the actions breakdown.
type Action struct {
	ActionType string `json:"action_type"`
	Value      Number `json:"value"`
}

// Record is one row of ad-level daily insights. Fields the type does not
// model are kept verbatim in Raw and written back on marshal.
type Record struct {
	AccountID    string   `json:"account_id,omitempty"`
	CampaignID   string   `json:"campaign_id,omitempty"`
	CampaignName string   `json:"campaign_name,omitempty"`
	AdsetID      string   `json:"adset_id,omitempty"`
	AdsetName    string   `json:"adset_name,omitempty"`
	AdID         string   `json:"ad_id,omitempty"`
	AdName       string   `json:"ad_name,omitempty"`
	DateStart    string   `json:"date_start,omitempty"`
	DateStop     string   `json:"date_stop,omitempty"`
	Impressions  Count    `json:"impressions,omitempty"`
	Reach        Count    `json:"reach,omitempty"`
	Clicks       Count    `json:"clicks,omitempty"`
	Spend        Number   `json:"spend,omitempty"`
	CPC          Number   `json:"cpc,omitempty"`
	CPM          Number   `json:"cpm,omitempty"`
	CTR          Number   `json:"ctr,omitempty"`
	Frequency    Number   `json:"frequency,omitempty"`
	Actions      []Action `json:"actions,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// knownFields holds the JSON names of the typed Record fields.
var knownFields = jsonFieldNames(reflect.TypeOf(Record{}))

func jsonFieldNames(t reflect.Type) map[string]struct{} {
	names := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names[name] = struct{}{}
	}
	return names
}

// record drops the custom methods to avoid recursion.
type record Record

// UnmarshalJSON decodes the typed fields and keeps every other field in Raw.
func (r *Record) UnmarshalJSON(data []byte) error {
	var typed record
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for name := range knownFields {
		delete(all, name)
	}
	if len(all) > 0 {
		typed.Raw = all
	}

	*r = Record(typed)
	return nil
}

// MarshalJSON writes the typed fields merged with Raw.
func (r Record) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(record(r))
	if err != nil {
		return nil, err
	}
	if len(r.Raw) == 0 {
		return typed, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Raw)+len(knownFields))
	for name, value := range r.Raw {
		merged[name] = value
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for name, value := range fields {
		merged[name] = value
	}
	return json.Marshal(merged)
}
