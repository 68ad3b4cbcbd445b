package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Usage header names.
const (
	HeaderAppUsage             = "X-App-Usage"
	HeaderAdAccountUsage       = "X-Ad-Account-Usage"
	HeaderBusinessUseCaseUsage = "X-Business-Use-Case-Usage"
)

// Usage is the parsed content of the usage headers of one response.
type Usage struct {
	// Percent is the highest usage percentage reported.
	Percent float64

	// RegainAccessIn is how long the API asked callers to wait. Zero while the
	// account is below the limit.
	RegainAccessIn time.Duration
}

type appUsage struct {
	CallCount    float64 `json:"call_count"`
	TotalTime    float64 `json:"total_time"`
	TotalCPUTime float64 `json:"total_cputime"`
}

type adAccountUsage struct {
	AccIDUtilPct      float64 `json:"acc_id_util_pct"`
	ResetTimeDuration float64 `json:"reset_time_duration"`
}

type businessUseCaseUsage struct {
	Type                        string  `json:"type"`
	CallCount                   float64 `json:"call_count"`
	TotalTime                   float64 `json:"total_time"`
	TotalCPUTime                float64 `json:"total_cputime"`
	EstimatedTimeToRegainAccess float64 `json:"estimated_time_to_regain_access"`
}

// ParseUsageHeaders extracts usage from response headers.
// ok is false when no usage header is present.
func ParseUsageHeaders(headers http.Header) (usage Usage, ok bool, err error) {
	if raw := headers.Get(HeaderAppUsage); raw != "" {
		var app appUsage
		if err := json.Unmarshal([]byte(raw), &app); err != nil {
			return Usage{}, false, fmt.Errorf("parse %s header: %w", HeaderAppUsage, err)
		}
		usage.Percent = max(usage.Percent, app.CallCount, app.TotalTime, app.TotalCPUTime)
		ok = true
	}

	if raw := headers.Get(HeaderAdAccountUsage); raw != "" {
		var acc adAccountUsage
		if err := json.Unmarshal([]byte(raw), &acc); err != nil {
			return Usage{}, false, fmt.Errorf("parse %s header: %w", HeaderAdAccountUsage, err)
		}
		usage.Percent = max(usage.Percent, acc.AccIDUtilPct)
		// reset_time_duration is the length of the current usage window and is sent
		// at any usage level; it only means a wait once the account is at the limit.
		if acc.AccIDUtilPct >= UsageThresholdCritical {
			usage.RegainAccessIn = max(usage.RegainAccessIn, time.Duration(acc.ResetTimeDuration)*time.Second)
		}
		ok = true
	}

	if raw := headers.Get(HeaderBusinessUseCaseUsage); raw != "" {
		var buc map[string][]businessUseCaseUsage
		if err := json.Unmarshal([]byte(raw), &buc); err != nil {
			return Usage{}, false, fmt.Errorf("parse %s header: %w", HeaderBusinessUseCaseUsage, err)
		}
		for _, entries := range buc {
			for _, e := range entries {
				usage.Percent = max(usage.Percent, e.CallCount, e.TotalTime, e.TotalCPUTime)
				// estimated_time_to_regain_access is reported in minutes
				usage.RegainAccessIn = max(usage.RegainAccessIn, time.Duration(e.EstimatedTimeToRegainAccess*float64(time.Minute)))
			}
		}
		ok = true
	}

	return usage, ok, nil
}
