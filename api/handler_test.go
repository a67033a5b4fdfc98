package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotafence/quotafence/metrics"
	"github.com/quotafence/quotafence/pkg/quotafence"
)

func newTestHandler(t *testing.T) (*Handler, *quotafence.Limiter, *metrics.Collector) {
	t.Helper()
	stats := metrics.NewCollector()
	limiter, err := quotafence.NewLimiter(
		quotafence.WithStats(stats),
		quotafence.WithGroup("auth-login", quotafence.GroupConfig{
			Algorithm:     quotafence.FixedWindow,
			MaxRequests:   2,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
		}),
	)
	require.NoError(t, err)
	return NewHandler(limiter, stats), limiter, stats
}

func TestGetStatsSnapshot(t *testing.T) {
	h, limiter, _ := newTestHandler(t)
	limiter.CheckKey("auth-login", "ip:10.0.0.1", 1)

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Groups, 1)
	require.Equal(t, "auth-login", snap.Groups[0].Group)
	require.Equal(t, int64(1), snap.Groups[0].Allowed)
}

func TestGetStatsSingleGroup(t *testing.T) {
	h, limiter, _ := newTestHandler(t)
	for i := 0; i < 3; i++ {
		limiter.CheckKey("auth-login", "ip:10.0.0.1", 1)
	}

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats?group=auth-login", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var gs metrics.GroupStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gs))
	require.Equal(t, int64(2), gs.Allowed)
	require.Equal(t, int64(1), gs.Denied)
}

func TestGetStatsUnknownGroup(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats?group=nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "unknown_group", resp.Error)
}

func TestGetStatsMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodPost, "/v1/stats", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResetKeyClearsQuota(t *testing.T) {
	h, limiter, _ := newTestHandler(t)
	limiter.CheckKey("auth-login", "ip:10.0.0.1", 1)
	limiter.CheckKey("auth-login", "ip:10.0.0.1", 1)
	require.False(t, limiter.CheckKey("auth-login", "ip:10.0.0.1", 1).Allowed)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"group":"auth-login","key":"ip:10.0.0.1"}`)
	h.Reset(rec, httptest.NewRequest(http.MethodPost, "/v1/reset", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, limiter.CheckKey("auth-login", "ip:10.0.0.1", 1).Allowed,
		"quota should be fresh after reset")
}

func TestResetStatsOnly(t *testing.T) {
	h, limiter, stats := newTestHandler(t)
	limiter.CheckKey("auth-login", "ip:10.0.0.1", 1)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"group":"auth-login"}`)
	h.Reset(rec, httptest.NewRequest(http.MethodPost, "/v1/reset", body))

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := stats.Group("auth-login")
	require.False(t, ok, "stats counters should be cleared")
}

func TestResetBadRequests(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing group", `{"key":"ip:10.0.0.1"}`, http.StatusBadRequest},
		{"unknown group", `{"group":"nope","key":"ip:10.0.0.1"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Reset(rec, httptest.NewRequest(http.MethodPost, "/v1/reset", strings.NewReader(tt.body)))
			require.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.Reset(rec, httptest.NewRequest(http.MethodGet, "/v1/reset", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string   `json:"status"`
		Groups []string `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, []string{"auth-login"}, resp.Groups)
}
