// Package testutil provides a mock Graph API server for insights tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// GraphAPIVersion is the version segment the mock serves under.
const GraphAPIVersion = "v19.0"

// MockGraphResponse defines the behavior for a mock Graph API response.
type MockGraphResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGraph is a configurable mock Graph API server.
type MockGraph struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount int
	LastQuery    url.Values
	LastHeader   http.Header
}

// NewMockGraph starts a mock Graph API server.
func NewMockGraph() *MockGraph {
	mock := &MockGraph{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()
		mock.LastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		writeJSON(w, http.StatusNotFound, nil, graphErrorBody(803, "Unknown path components: "+r.URL.Path))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGraph) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraph) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockGraph) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastQuery = nil
	m.LastHeader = nil
}

// GetRequestCount returns the number of requests served.
func (m *MockGraph) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query of the last request.
func (m *MockGraph) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// SetHandler sets a custom handler for a path.
func (m *MockGraph) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockGraph) SetResponse(path string, resp MockGraphResponse) {
	m.SetResponseSequence(path, resp)
}

// SetResponseSequence serves the responses in order; the last one repeats.
func (m *MockGraph) SetResponseSequence(path string, responses ...MockGraphResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(next, len(responses)-1)]
		next++
		mu.Unlock()

		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPagedInsights serves pages of perPage generated records for accountID,
// linked through paging.next with an "after" cursor.
func (m *MockGraph) SetPagedInsights(accountID string, pages, perPage int) {
	m.SetPagedInsightsWithHeaders(accountID, pages, perPage, nil)
}

// SetPagedInsightsWithHeaders is SetPagedInsights with extra headers on every page.
func (m *MockGraph) SetPagedInsightsWithHeaders(accountID string, pages, perPage int, headers map[string]string) {
	base := m.URL() + InsightsPath(accountID)
	m.SetHandler(InsightsPath(accountID), func(w http.ResponseWriter, r *http.Request) {
		index := 0
		if after := r.URL.Query().Get("after"); after != "" {
			n, err := strconv.Atoi(after)
			if err != nil || n < 1 || n >= pages {
				writeJSON(w, http.StatusBadRequest, nil, graphErrorBody(100, "Invalid cursor"))
				return
			}
			index = n
		}

		next := ""
		if index+1 < pages {
			q := r.URL.Query()
			q.Set("after", strconv.Itoa(index+1))
			next = base + "?" + q.Encode()
		}

		writeJSON(w, http.StatusOK, headers, NewInsightsPage(GenerateRecords(accountID, index*perPage, perPage), next))
	})
}

// InsightsPath returns the insights path of an ad account.
func InsightsPath(accountID string) string {
	return fmt.Sprintf("/%s/act_%s/insights", GraphAPIVersion, accountID)
}

// GenerateRecords returns n insights rows numbered from offset, encoded the way
// the API encodes them (numbers as strings).
func GenerateRecords(accountID string, offset, n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		id := offset + i
		records[i] = map[string]any{
			"account_id":    accountID,
			"campaign_id":   "c1",
			"campaign_name": "Campaign",
			"ad_id":         fmt.Sprintf("ad%d", id),
			"ad_name":       fmt.Sprintf("Ad %d", id),
			"date_start":    "2024-01-01",
			"date_stop":     "2024-01-01",
			"impressions":   strconv.Itoa(1000 + id),
			"clicks":        strconv.Itoa(10 + id),
			"spend":         fmt.Sprintf("%d.50", id),
			"actions": []map[string]string{
				{"action_type": "link_click", "value": strconv.Itoa(id)},
			},
		}
	}
	return records
}

// NewInsightsPage encodes one insights page body.
func NewInsightsPage(records []map[string]any, next string) string {
	page := map[string]any{"data": records}
	if records == nil {
		page["data"] = []any{}
	}
	if next != "" {
		page["paging"] = map[string]any{
			"cursors": map[string]string{"before": "b", "after": "a"},
			"next":    next,
		}
	}
	data, _ := json.Marshal(page)
	return string(data)
}

// NewHealthyResponse creates a 200 OK response carrying body.
func NewHealthyResponse(body string) MockGraphResponse {
	return MockGraphResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"X-App-Usage":  `{"call_count":10,"total_time":5,"total_cputime":5}`,
		},
	}
}

// NewGraphErrorResponse creates an error response with the API's error payload.
func NewGraphErrorResponse(status, code int, message string) MockGraphResponse {
	return MockGraphResponse{
		StatusCode: status,
		Body:       graphErrorBody(code, message),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewAuthErrorResponse creates a 401 invalid token response.
func NewAuthErrorResponse() MockGraphResponse {
	return NewGraphErrorResponse(http.StatusUnauthorized, 190, "Invalid OAuth access token.")
}

// NewRateLimitResponse creates a throttling response with a usage header
// asking callers to wait regainMinutes.
func NewRateLimitResponse(regainMinutes int) MockGraphResponse {
	resp := NewGraphErrorResponse(http.StatusBadRequest, 80000, "There have been too many calls from this ad-account.")
	resp.Headers["X-Business-Use-Case-Usage"] = fmt.Sprintf(
		`{"1":[{"type":"ads_insights","call_count":100,"total_cputime":20,"total_time":30,"estimated_time_to_regain_access":%d}]}`,
		regainMinutes)
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockGraphResponse {
	return NewGraphErrorResponse(http.StatusInternalServerError, 2, "An unexpected error has occurred.")
}

func graphErrorBody(code int, message string) string {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message":    message,
			"type":       "OAuthException",
			"code":       code,
			"fbtrace_id": "mock",
		},
	})
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, headers map[string]string, body string) {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
