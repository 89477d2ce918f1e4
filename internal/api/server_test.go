package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/crawlpool/internal/crawl"
	"github.com/JakeFAU/crawlpool/internal/scheduler"
)

type fakePool struct {
	mu      sync.Mutex
	paused  bool
	aborted bool
}

func (f *fakePool) Status() scheduler.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.RunStatus{
		RunID:    "run-1",
		Desired:  4,
		Active:   2,
		Counters: crawl.RunCounters{Succeeded: 9},
		Paused:   f.paused,
		Aborted:  f.aborted,
	}
}

func (f *fakePool) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakePool) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakePool) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
}

func newTestServer(t *testing.T) (*httptest.Server, *fakePool) {
	t.Helper()
	pool := &fakePool{}
	srv := httptest.NewServer(New(Config{}, pool, zaptest.NewLogger(t)).Routes())
	t.Cleanup(srv.Close)
	return srv, pool
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/run")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status scheduler.RunStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "run-1", status.RunID)
	require.Equal(t, 4, status.Desired)
	require.Equal(t, 9, status.Counters.Succeeded)
}

func TestRunControls(t *testing.T) {
	t.Parallel()

	srv, pool := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/run/pause", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, pool.Status().Paused)

	resp, err = http.Post(srv.URL+"/v1/run/resume", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.False(t, pool.Status().Paused)

	resp, err = http.Post(srv.URL+"/v1/run/abort", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, pool.Status().Aborted)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
