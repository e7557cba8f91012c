package dashboard

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

type stubTimer struct{ stopped bool }

func (t *stubTimer) Stop() bool { t.stopped = true; return true }

// manualTimers collects debounce callbacks so tests decide when they fire.
type manualTimers struct {
	mu  sync.Mutex
	fns []func()
}

func (m *manualTimers) AfterFunc(_ time.Duration, f func()) mapengine.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, f)
	return &stubTimer{}
}

func (m *manualTimers) fireLast() {
	m.mu.Lock()
	f := m.fns[len(m.fns)-1]
	m.mu.Unlock()
	f()
}

type fakeBackend struct {
	mu      sync.Mutex
	events  []intel.Event
	fetches int
	actions []string
}

func (b *fakeBackend) FetchEvents(context.Context) ([]intel.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	return b.events, nil
}

func (b *fakeBackend) UpdateStatus(_ context.Context, id string, a backend.Action) (intel.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, id+":"+string(a))
	status, _ := a.Status()
	return intel.Event{ID: id, Title: "updated", Status: status, Verified: status == intel.StatusVerified}, nil
}

func (b *fakeBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

// equatorRow places n events 1.5 degrees apart along the equator.
func equatorRow(n int) []intel.Event {
	out := make([]intel.Event, n)
	for i := range out {
		out[i] = intel.Event{
			ID:       fmt.Sprintf("ev-%02d", i),
			Severity: intel.SeverityMedium,
			Coords:   intel.Coords{Lat: 0, Lng: float64(i) * 1.5},
			Status:   intel.StatusPending,
		}
	}
	return out
}

func newTestDashboard(t *testing.T, opts Options) (*Dashboard, *manualTimers) {
	t.Helper()
	timers := &manualTimers{}
	opts.Config = config.Default()
	opts.AfterFunc = timers.AfterFunc
	d := New(opts)
	t.Cleanup(func() { _ = d.Close() })
	return d, timers
}

func TestClusterScenarioAcrossZoom(t *testing.T) {
	d, _ := newTestDashboard(t, Options{})
	d.Events().Replace(equatorRow(12))

	d.Render()
	l := d.Layer()
	require.NotNil(t, l)
	require.Len(t, l.Clusters, 1)
	assert.Equal(t, 12, l.Clusters[0].Count)
	assert.Equal(t, "12", mapengine.ClusterLabel(l.Clusters[0].Count))

	d.Zoom(20, 500, 300)
	d.GestureEnd()
	l = d.Layer()
	assert.Equal(t, 20.0, l.Transform.K)
	assert.Empty(t, l.Clusters)
	assert.Len(t, l.Unclustered, 12)
}

func TestRealtimeHandlersFeedTheLayer(t *testing.T) {
	var critical []string
	d, timers := newTestDashboard(t, Options{OnCritical: func(ev intel.Event) { critical = append(critical, ev.ID) }})
	h := d.Handlers()

	h.OnEventCreated(intel.Event{ID: "a", Severity: intel.SeverityCritical})
	h.OnEventCreated(intel.Event{ID: "b"})
	h.OnEventUpdated(intel.Event{ID: "ghost"})
	h.OnEventVerified("ghost", true)
	h.OnEventVerified("b", true)
	h.OnStateChange(realtime.StateConnected)

	assert.Nil(t, d.Layer(), "nothing renders before the debounce fires")
	timers.fireLast()

	l := d.Layer()
	require.NotNil(t, l)
	assert.Equal(t, mapengine.FidelityDeferred, l.Fidelity)
	assert.Equal(t, 2, l.EventCount)
	assert.Equal(t, []string{"a"}, critical)
	assert.Equal(t, realtime.StateConnected, d.Link())

	b, _ := d.Events().Get("b")
	assert.True(t, b.Verified)
	_, ghost := d.Events().Get("ghost")
	assert.False(t, ghost)
}

func TestDeferredRenderKeepsHeatLayer(t *testing.T) {
	d, timers := newTestDashboard(t, Options{})
	d.Events().Replace(equatorRow(12))

	d.Render()
	full := d.Layer().Contours
	require.NotEmpty(t, full)

	d.Pan(40, 0)
	timers.fireLast()
	l := d.Layer()
	assert.Equal(t, mapengine.FidelityDeferred, l.Fidelity)
	assert.Equal(t, full, l.Contours)

	assert.False(t, d.ToggleHeatmap())
	assert.Nil(t, d.Layer().Contours)
}

func TestArchivedEventsLeaveTheMap(t *testing.T) {
	d, _ := newTestDashboard(t, Options{})
	evs := equatorRow(3)
	evs[1].Status = intel.StatusArchived
	d.Events().Replace(evs)
	d.Render()
	assert.Equal(t, 2, d.Layer().EventCount)
	assert.Equal(t, 3, d.Events().Len())
}

const testWorld = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Nigeria"},
     "geometry": {"type": "Polygon", "coordinates": [[[3, 4], [14, 4], [14, 14], [3, 14], [3, 4]]]}},
    {"type": "Feature", "properties": {"name": "Kenya"},
     "geometry": {"type": "Polygon", "coordinates": [[[34, -4], [41, -4], [41, 4], [34, 4], [34, -4]]]}}
  ]
}`

func TestSelectRegion(t *testing.T) {
	idx, err := mapengine.LoadRegionIndex(strings.NewReader(testWorld))
	require.NoError(t, err)
	d, _ := newTestDashboard(t, Options{Regions: idx})
	d.Events().Replace([]intel.Event{
		{ID: "lagos", Coords: intel.Coords{Lat: 6.5, Lng: 3.4}, Region: intel.UnknownRegion},
		{ID: "nairobi", Coords: intel.Coords{Lat: -1.3, Lng: 36.8}, Region: intel.UnknownRegion},
	})

	require.True(t, d.SelectRegion("NG"))
	assert.Equal(t, "Nigeria", d.Region())
	tr := d.Transform()
	assert.Greater(t, tr.K, 1.0)
	assert.LessOrEqual(t, tr.K, 8.0)
	assert.Equal(t, 1, d.Layer().EventCount)

	// selecting the active region again resets
	assert.False(t, d.SelectRegion("Nigeria"))
	assert.Equal(t, "", d.Region())
	assert.Equal(t, mapengine.Identity, d.Transform())
	assert.Equal(t, 2, d.Layer().EventCount)

	assert.False(t, d.SelectRegion("Atlantis"))
}

func TestClickAt(t *testing.T) {
	idx, err := mapengine.LoadRegionIndex(strings.NewReader(testWorld))
	require.NoError(t, err)
	d, _ := newTestDashboard(t, Options{Regions: idx})
	d.Events().Replace(equatorRow(12))
	d.Render()

	c := d.Layer().Clusters[0]
	sx, sy := d.Layer().Transform.Apply(c.X, c.Y)
	res := d.ClickAt(sx, sy)
	require.NotNil(t, res.Cluster)
	assert.Equal(t, 6.0, d.Transform().K)

	d.ResetView()
	p := mapengine.NewProjector(1000, 600, 160)
	kx, ky := p.Project(0, 38)
	res = d.ClickAt(kx, ky)
	assert.Nil(t, res.Cluster)
	assert.Equal(t, "Kenya", res.Region)
	assert.Equal(t, "Kenya", d.Region())
}

func TestStatusActions(t *testing.T) {
	be := &fakeBackend{}
	d, _ := newTestDashboard(t, Options{Backend: be})
	d.Events().Replace(equatorRow(2))
	ctx := context.Background()

	require.NoError(t, d.Verify(ctx, "ev-00"))
	require.NoError(t, d.Archive(ctx, "ev-01"))
	assert.ErrorIs(t, d.Escalate(ctx, "missing"), intel.ErrNotFound)

	v, _ := d.Events().Get("ev-00")
	assert.True(t, v.Verified)
	assert.Equal(t, intel.StatusVerified, v.Status)
	a, _ := d.Events().Get("ev-01")
	assert.True(t, a.Archived())
	assert.Equal(t, []string{"ev-00:verify", "ev-01:archive"}, be.actions)

	bare, _ := newTestDashboard(t, Options{})
	assert.ErrorIs(t, bare.Verify(ctx, "x"), ErrNoBackend)
}

func TestResyncRefetches(t *testing.T) {
	be := &fakeBackend{events: equatorRow(4)}
	d, _ := newTestDashboard(t, Options{Backend: be})
	d.Events().Replace(equatorRow(1))

	d.Handlers().OnResync()
	require.Eventually(t, func() bool { return d.Events().Len() == 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, be.fetchCount())
}

func TestSubmitIsOptimistic(t *testing.T) {
	d, _ := newTestDashboard(t, Options{})
	d.Events().Replace(equatorRow(1))
	ev := d.Submit("Checkpoint report", "Road blocked, generated in Kano region", intel.SeverityHigh, intel.Coords{Lat: 12, Lng: 8.5})
	snap := d.Events().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, ev.ID, snap[0].ID)
	assert.Equal(t, intel.SourceLocal, snap[0].Source)
	assert.Equal(t, "Kano", snap[0].Region)
}

func TestSnapshotWarmStart(t *testing.T) {
	store, err := utils.OpenDiskStore(filepath.Join(t.TempDir(), "snap"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := New(Options{Config: config.Default(), Store: store})
	evs := equatorRow(3)
	evs[2].Severity = intel.SeverityCritical
	d.Events().Replace(evs)
	require.NoError(t, d.Close())

	d2, _ := newTestDashboard(t, Options{Store: store})
	n, err := d2.WarmStart()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	snap := d2.Events().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "ev-00", snap[0].ID)
	assert.Equal(t, intel.SeverityCritical, snap[2].Severity)
	assert.InDelta(t, 3.0, snap[2].Coords.Lng, 1e-9)
}
