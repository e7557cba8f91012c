package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/dashboard"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
)

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// neverFire keeps debounced renders from racing the assertions.
func neverFire(time.Duration, func()) mapengine.Timer { return idleTimer{} }

type statusBackend struct{}

func (statusBackend) FetchEvents(context.Context) ([]intel.Event, error) { return nil, nil }

func (statusBackend) UpdateStatus(_ context.Context, id string, a backend.Action) (intel.Event, error) {
	status, _ := a.Status()
	return intel.Event{ID: id, Status: status, Verified: status == intel.StatusVerified}, nil
}

func equatorRow(n int) []intel.Event {
	out := make([]intel.Event, n)
	for i := range out {
		out[i] = intel.Event{
			ID:       fmt.Sprintf("ev-%02d", i),
			Title:    "report",
			Severity: intel.SeverityMedium,
			Region:   "Kenya",
			Coords:   intel.Coords{Lat: 0, Lng: 36 + float64(i)*1.5},
			Status:   intel.StatusPending,
		}
	}
	return out
}

func newTestServer(t *testing.T, be dashboard.EventSource) (*dashboard.Dashboard, *httptest.Server) {
	t.Helper()
	d := dashboard.New(dashboard.Options{Config: config.Default(), Backend: be, AfterFunc: neverFire})
	srv := httptest.NewServer(New(d).Router())
	t.Cleanup(func() {
		srv.Close()
		_ = d.Close()
	})
	return d, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	d, srv := newTestServer(t, nil)
	d.Events().Replace(equatorRow(3))

	var h healthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 3, h.Events)
	assert.Equal(t, "disconnected", strings.ToLower(h.Link))
}

func TestLayerEndpoint(t *testing.T) {
	d, srv := newTestServer(t, nil)

	var e map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/v1/layer", &e))

	d.Events().Replace(equatorRow(12))
	d.Render()

	var l layerResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/layer", &l))
	assert.Equal(t, "full", strings.ToLower(l.Fidelity))
	assert.Equal(t, 12, l.EventCount)
	require.Len(t, l.Clusters, 1)
	assert.Equal(t, 12, l.Clusters[0].Count)
	assert.Len(t, l.Clusters[0].EventIDs, 12)
	assert.Empty(t, l.Markers)
	assert.NotEmpty(t, l.Contours)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, l.Clusters[0].Color)
}

func TestLayerPreview(t *testing.T) {
	d, srv := newTestServer(t, nil)
	d.Events().Replace(equatorRow(12))
	d.Render()

	var l layerResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/layer?k=20&heatmap=false", &l))
	assert.Equal(t, 20.0, l.Transform.K)
	assert.Empty(t, l.Clusters)
	assert.Len(t, l.Markers, 12)
	assert.Empty(t, l.Contours)
	assert.Equal(t, "MEDIUM", fmt.Sprint(l.Markers[0].Severity))

	// the preview is not committed
	assert.Equal(t, 1.0, d.Layer().Transform.K)

	for _, q := range []string{"k=0.5", "k=21", "k=abc", "x=nope", "heatmap=maybe"} {
		var e map[string]string
		assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/layer?"+q, &e), q)
		assert.NotEmpty(t, e["error"], q)
	}
}

func TestEventsEndpoint(t *testing.T) {
	d, srv := newTestServer(t, nil)
	evs := equatorRow(4)
	evs[1].Status = intel.StatusArchived
	evs[2].Severity = intel.SeverityCritical
	evs[3].Region = "Nigeria"
	d.Events().Replace(evs)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"ev-00", "ev-02", "ev-03"}},
		{"?region=Kenya", []string{"ev-00", "ev-02"}},
		{"?severity=critical", []string{"ev-02"}},
		{"?status=ARCHIVED", []string{"ev-01"}},
	}
	for _, tt := range tests {
		var got []intel.Event
		require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/events"+tt.query, &got), tt.query)
		ids := make([]string, len(got))
		for i, ev := range got {
			ids[i] = ev.ID
		}
		assert.Equal(t, tt.want, ids, tt.query)
	}

	var e map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/events?severity=extreme", &e))
}

func TestStatusAction(t *testing.T) {
	d, srv := newTestServer(t, statusBackend{})
	d.Events().Replace(equatorRow(2))

	post := func(path string) int {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post("/v1/events/ev-00/verify"))
	ev, _ := d.Events().Get("ev-00")
	assert.True(t, ev.Verified)

	assert.Equal(t, http.StatusOK, post("/v1/events/ev-01/archive"))
	ev, _ = d.Events().Get("ev-01")
	assert.True(t, ev.Archived())

	assert.Equal(t, http.StatusNotFound, post("/v1/events/missing/escalate"))
	assert.Equal(t, http.StatusBadRequest, post("/v1/events/ev-00/delete"))
	assert.Equal(t, http.StatusMethodNotAllowed, func() int {
		resp, err := http.Get(srv.URL + "/v1/events/ev-00/verify")
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}())
}

func TestStatusActionWithoutBackend(t *testing.T) {
	d, srv := newTestServer(t, nil)
	d.Events().Replace(equatorRow(1))
	resp, err := http.Post(srv.URL+"/v1/events/ev-00/verify", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, nil)
	getJSON(t, srv.URL+"/healthz", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sentinel_http_requests_total{code="200",route="/healthz"}`)
}
