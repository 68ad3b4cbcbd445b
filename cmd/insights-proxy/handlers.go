package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/ads-insights-cache/pkg/cache"
	"github.com/Sternrassler/ads-insights-cache/pkg/insights"
	"github.com/Sternrassler/ads-insights-cache/pkg/metrics"
	"github.com/Sternrassler/ads-insights-cache/pkg/tiered"
	"github.com/gorilla/mux"
)

func newRouter(s *server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/insights/warm", s.warmHandler).Methods(http.MethodPost)
	r.HandleFunc("/insights/{owner}/{range}", s.getInsightsHandler).Methods(http.MethodGet)
	r.HandleFunc("/insights/{owner}/{range}", s.clearInsightsHandler).Methods(http.MethodDelete)
	r.HandleFunc("/cache", s.clearAllHandler).Methods(http.MethodDelete)

	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.resetStatsHandler).Methods(http.MethodDelete)
	r.HandleFunc("/token", s.tokenHandler).Methods(http.MethodPut)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	health := s.cache.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy || !health.StoreReachable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func keyFromRequest(r *http.Request) (cache.Key, error) {
	vars := mux.Vars(r)
	dateRange, err := cache.ParseDateRange(vars["range"])
	if err != nil {
		return cache.Key{}, err
	}
	key := cache.Key{OwnerID: vars["owner"], Range: dateRange}
	return key, key.Validate()
}

// optionsFromQuery reads force_refresh, skip_l1, skip_l2 and ttl.
// A flag given without a value counts as true.
func optionsFromQuery(r *http.Request) (cache.Options, error) {
	q := r.URL.Query()
	var opts cache.Options

	flags := []struct {
		name string
		dst  *bool
	}{
		{"force_refresh", &opts.ForceRefresh},
		{"skip_l1", &opts.SkipL1},
		{"skip_l2", &opts.SkipL2},
	}
	for _, f := range flags {
		if !q.Has(f.name) {
			continue
		}
		value := q.Get(f.name)
		if value == "" {
			*f.dst = true
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return opts, fmt.Errorf("%s: %q is not a boolean", f.name, value)
		}
		*f.dst = b
	}

	if v := q.Get("ttl"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return opts, fmt.Errorf("ttl: %q is not a positive duration", v)
		}
		opts.TTL = ttl
	}
	return opts, nil
}

func (s *server) getInsightsHandler(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := optionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := s.cache.Get(r.Context(), key, opts)
	if result.Metadata.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.Metadata.RetryAfter.Seconds())))
	}
	writeJSON(w, statusForResult(result), result)
}

// statusForResult maps a miss to the status a dashboard can act on.
func statusForResult(result tiered.Result) int {
	if result.Hit() {
		return http.StatusOK
	}
	switch result.Metadata.Error {
	case "":
		return http.StatusNotFound
	case string(insights.KindUnauthenticated), string(insights.KindAuth):
		return http.StatusUnauthorized
	case string(insights.KindRateLimited):
		return http.StatusTooManyRequests
	case string(insights.KindTimeout):
		return http.StatusGatewayTimeout
	case tiered.ErrorInvalidKey, string(insights.KindRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *server) clearInsightsHandler(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cache.Clear(r.Context(), key); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clearAllHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type warmRequest struct {
	Keys []string `json:"keys"`
}

func (s *server) warmHandler(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	keys := make([]cache.Key, 0, len(req.Keys))
	for _, text := range req.Keys {
		key, err := cache.ParseKey(text)
		if err == nil {
			err = key.Validate()
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		keys = append(keys, key)
	}

	opts, err := optionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sources, err := s.cache.Warm(r.Context(), keys, opts)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Statistics())
}

func (s *server) resetStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.cache.ResetStatistics()
	w.WriteHeader(http.StatusNoContent)
}

type tokenRequest struct {
	AccessToken string `json:"access_token"`
}

func (s *server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("access_token is required"))
		return
	}

	s.client.SetAccessToken(req.AccessToken)
	s.logger.Info().Msg("Access token replaced")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
