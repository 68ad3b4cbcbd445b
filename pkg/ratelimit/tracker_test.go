package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestTracker creates a tracker backed by an in-memory Redis server.
func setupTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(client, logger)
	tracker.SetThrottleDelay(10 * time.Millisecond)
	return tracker, mr
}

func TestTracker_GetState_Default(t *testing.T) {
	tracker, _ := setupTestTracker(t)

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.UsagePercent != 0 {
		t.Errorf("Default UsagePercent = %v, want 0", state.UsagePercent)
	}
	if !state.IsHealthy {
		t.Error("Default state should be healthy")
	}
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name            string
		header          string
		value           string
		expectedUsage   float64
		expectedHealthy bool
		expectReset     bool
	}{
		{
			name:            "healthy state",
			header:          HeaderAppUsage,
			value:           `{"call_count":10,"total_time":5,"total_cputime":3}`,
			expectedUsage:   10,
			expectedHealthy: true,
		},
		{
			name:            "warning state",
			header:          HeaderAppUsage,
			value:           `{"call_count":80,"total_time":5,"total_cputime":3}`,
			expectedUsage:   80,
			expectedHealthy: false,
		},
		{
			name:            "account window reset while healthy",
			header:          HeaderAdAccountUsage,
			value:           `{"acc_id_util_pct":9.67,"reset_time_duration":120}`,
			expectedUsage:   9.67,
			expectedHealthy: true,
		},
		{
			name:            "account at the limit",
			header:          HeaderAdAccountUsage,
			value:           `{"acc_id_util_pct":100,"reset_time_duration":120}`,
			expectedUsage:   100,
			expectedHealthy: false,
			expectReset:     true,
		},
		{
			name:            "blocked with regain estimate",
			header:          HeaderBusinessUseCaseUsage,
			value:           `{"1":[{"type":"ads_insights","call_count":100,"total_cputime":1,"total_time":1,"estimated_time_to_regain_access":5}]}`,
			expectedUsage:   100,
			expectedHealthy: false,
			expectReset:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _ := setupTestTracker(t)
			ctx := context.Background()

			headers := http.Header{}
			headers.Set(tt.header, tt.value)
			if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			state, err := tracker.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if state.UsagePercent != tt.expectedUsage {
				t.Errorf("UsagePercent = %v, want %v", state.UsagePercent, tt.expectedUsage)
			}
			if state.IsHealthy != tt.expectedHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.expectedHealthy)
			}
			if tt.expectReset && state.TimeUntilReset() <= 0 {
				t.Error("expected a future reset time")
			}
			if !tt.expectReset && !state.ResetAt.IsZero() {
				t.Errorf("ResetAt = %v, want zero", state.ResetAt)
			}
			if state.IsStale(time.Minute) {
				t.Error("freshly updated state should not be stale")
			}
		})
	}
}

func TestTracker_UpdateFromHeaders_NoHeaders(t *testing.T) {
	tracker, mr := setupTestTracker(t)

	if err := tracker.UpdateFromHeaders(context.Background(), http.Header{}); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if mr.Exists(RedisKeyUsagePercent) {
		t.Error("state should not be written without usage headers")
	}
}

func TestTracker_UpdateFromHeaders_Invalid(t *testing.T) {
	tracker, _ := setupTestTracker(t)

	headers := http.Header{}
	headers.Set(HeaderAppUsage, "not-json")
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err == nil {
		t.Error("expected error for malformed usage header")
	}
}

func TestTracker_ShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		wantAllowed bool
		wantWait    bool
	}{
		{
			name:        "healthy",
			value:       `{"call_count":5,"total_time":5,"total_cputime":5}`,
			wantAllowed: true,
		},
		{
			name:        "throttled but allowed",
			value:       `{"call_count":85,"total_time":5,"total_cputime":5}`,
			wantAllowed: true,
		},
		{
			name:        "critical is blocked",
			value:       `{"call_count":97,"total_time":5,"total_cputime":5}`,
			wantAllowed: false,
			wantWait:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _ := setupTestTracker(t)
			ctx := context.Background()

			headers := http.Header{}
			headers.Set(HeaderAppUsage, tt.value)
			if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
				t.Fatalf("UpdateFromHeaders() error = %v", err)
			}

			allowed, wait, err := tracker.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", allowed, tt.wantAllowed)
			}
			if tt.wantWait && wait != DefaultBlockBackoff {
				t.Errorf("wait = %v, want %v", wait, DefaultBlockBackoff)
			}
		})
	}
}

func TestTracker_ShouldAllowRequest_AccountWindowReset(t *testing.T) {
	tracker, _ := setupTestTracker(t)
	ctx := context.Background()

	// Sent on every response of a lightly used account
	headers := http.Header{}
	headers.Set(HeaderAdAccountUsage, `{"acc_id_util_pct":9.67,"reset_time_duration":120}`)

	for i := 0; i < 3; i++ {
		if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
			t.Fatalf("UpdateFromHeaders() error = %v", err)
		}
		allowed, wait, err := tracker.ShouldAllowRequest(ctx)
		if err != nil {
			t.Fatalf("ShouldAllowRequest() error = %v", err)
		}
		if !allowed || wait != 0 {
			t.Fatalf("request %d: allowed = %v, wait = %v, want allowed without wait", i, allowed, wait)
		}
	}
}

func TestTracker_ShouldAllowRequest_ThrottleRespectsContext(t *testing.T) {
	tracker, _ := setupTestTracker(t)
	tracker.SetThrottleDelay(time.Hour)

	headers := http.Header{}
	headers.Set(HeaderAppUsage, `{"call_count":80,"total_time":0,"total_cputime":0}`)
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, _, err := tracker.ShouldAllowRequest(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if allowed {
		t.Error("request should not be allowed after cancellation")
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker, _ := setupTestTracker(t)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set(HeaderAppUsage, `{"call_count":99,"total_time":0,"total_cputime":0}`)
	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if err := tracker.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	allowed, _, err := tracker.ShouldAllowRequest(ctx)
	if err != nil || !allowed {
		t.Errorf("after Reset: allowed = %v, err = %v", allowed, err)
	}
}
