// Package dashboard wires the event collection, the realtime feed and the map
// layer pipeline into one operator view.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

var ErrNoBackend = errors.New("dashboard: no backend configured")

// EventSource is the part of the REST backend the dashboard needs.
type EventSource interface {
	FetchEvents(ctx context.Context) ([]intel.Event, error)
	UpdateStatus(ctx context.Context, id string, a backend.Action) (intel.Event, error)
}

type Options struct {
	Config config.Config
	// Backend, Regions, Subregions, Store and Geo are optional.
	Backend    EventSource
	Regions    *mapengine.RegionIndex
	Subregions *mapengine.SubregionLoader
	Store      *utils.DiskStore
	Geo        *intel.GeoResolver

	AfterFunc mapengine.AfterFuncFactory

	OnCommit   func(*mapengine.Layer)
	OnAlert    func(realtime.SystemAlert)
	OnCritical func(intel.Event)
}

// ClickResult says what a click on the map hit.
type ClickResult struct {
	Cluster *mapengine.Cluster
	Region  string
}

type Dashboard struct {
	cfg     config.Config
	opts    Options
	events  *intel.Collection
	builder *mapengine.LayerBuilder
	sched   *mapengine.RenderScheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	transform  mapengine.Transform
	region     string
	heatmap    bool
	contours   []mapengine.Contour
	subregions *mapengine.RegionIndex
	link       realtime.State

	layer atomic.Pointer[mapengine.Layer]
}

func New(opts Options) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		cfg:       opts.Config,
		opts:      opts,
		events:    intel.NewCollection(),
		builder:   mapengine.NewLayerBuilder(opts.Config),
		ctx:       ctx,
		cancel:    cancel,
		transform: mapengine.Identity,
		heatmap:   true,
	}
	d.sched = mapengine.NewRenderScheduler(opts.Config.Render.Debounce, d.render)
	if opts.AfterFunc != nil {
		d.sched.WithAfterFunc(opts.AfterFunc)
	}
	d.sched.OnError = func(error) { recomputeFailures.Inc() }
	return d
}

func (d *Dashboard) Events() *intel.Collection { return d.events }

// Layer is the last committed layer, or nil before the first render.
func (d *Dashboard) Layer() *mapengine.Layer { return d.layer.Load() }

func (d *Dashboard) Config() config.Config { return d.cfg }

func (d *Dashboard) Transform() mapengine.Transform {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transform
}

func (d *Dashboard) Region() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.region
}

// Subregions is the drill-down boundary set for the selected region, if one
// was loaded.
func (d *Dashboard) Subregions() *mapengine.RegionIndex {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subregions
}

func (d *Dashboard) Heatmap() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heatmap
}

func (d *Dashboard) Link() realtime.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link
}

// Render recomputes the layer at full fidelity right away.
func (d *Dashboard) Render() { d.sched.GestureEnd() }

func (d *Dashboard) render(f mapengine.Fidelity) error {
	timer := prometheus.NewTimer(recomputeDuration.WithLabelValues(f.String()))
	defer timer.ObserveDuration()

	d.mu.Lock()
	t, region, heat := d.transform, d.region, d.heatmap
	d.mu.Unlock()

	events := mapengine.FilterByRegion(d.events.Active(), region, d.opts.Regions)
	l := d.builder.Build(events, t, f, heat)

	d.mu.Lock()
	switch {
	case !heat:
		d.contours = nil
	case f == mapengine.FidelityFull:
		d.contours = l.Contours
	default:
		// deferred builds keep the last full heat layer
		l.Contours = d.contours
	}
	d.mu.Unlock()

	d.layer.Store(l)
	eventsHeld.Set(float64(d.events.Len()))
	layerClusters.Set(float64(len(l.Clusters)))
	if d.opts.OnCommit != nil {
		d.opts.OnCommit(l)
	}
	return nil
}

// Preview builds a full-fidelity layer for an arbitrary view without
// committing it. The region filter of the current selection still applies.
func (d *Dashboard) Preview(t mapengine.Transform, heatmap bool) *mapengine.Layer {
	region := d.Region()
	events := mapengine.FilterByRegion(d.events.Active(), region, d.opts.Regions)
	return d.builder.Build(events, t, mapengine.FidelityFull, heatmap)
}

func (d *Dashboard) setTransform(t mapengine.Transform) {
	d.mu.Lock()
	d.transform = t
	d.mu.Unlock()
}

// Pan moves the map by a screen delta.
func (d *Dashboard) Pan(dx, dy float64) {
	d.mu.Lock()
	d.transform = d.transform.Translate(dx, dy)
	d.mu.Unlock()
	d.sched.Tick()
}

// Zoom scales around a screen anchor within the configured zoom extent.
func (d *Dashboard) Zoom(factor, ax, ay float64) {
	v := d.cfg.Viewport
	d.mu.Lock()
	d.transform = d.transform.ScaleAround(factor, ax, ay, v.MinZoom, v.MaxZoom)
	d.mu.Unlock()
	d.sched.Tick()
}

func (d *Dashboard) GestureEnd() { d.sched.GestureEnd() }

// ResetView clears the region selection and returns to the whole world.
func (d *Dashboard) ResetView() {
	d.mu.Lock()
	d.transform = mapengine.Identity
	d.region = ""
	d.subregions = nil
	d.mu.Unlock()
	d.sched.GestureEnd()
}

func (d *Dashboard) ToggleHeatmap() bool {
	d.mu.Lock()
	d.heatmap = !d.heatmap
	on := d.heatmap
	d.mu.Unlock()
	d.sched.GestureEnd()
	return on
}

// SelectRegion zooms to the named region. Selecting the current region again,
// or the empty name, resets the view.
func (d *Dashboard) SelectRegion(name string) bool {
	d.mu.Lock()
	current := d.region
	d.mu.Unlock()
	if name == "" || name == current {
		d.ResetView()
		return false
	}

	reg, ok := d.opts.Regions.Lookup(name)
	if !ok {
		log.WithField("region", name).Warn("[dashboard] unknown region")
		return false
	}
	v := d.cfg.Viewport
	t := mapengine.ZoomToBounds(reg.ProjectedBounds(d.builder.Projector), v.Width, v.Height, v.RegionPadding, v.RegionZoomCap)

	d.mu.Lock()
	d.transform = t
	d.region = reg.Name
	d.subregions = nil
	d.mu.Unlock()

	log.WithFields(log.Fields{"region": reg.Name, "k": t.K}).Info("[dashboard] region selected")
	d.loadSubregions(reg.Name)
	d.sched.GestureEnd()
	return true
}

func (d *Dashboard) loadSubregions(region string) {
	if d.opts.Subregions == nil {
		return
	}
	go func() {
		idx, ok, err := d.opts.Subregions.Load(region)
		if err != nil {
			log.WithError(err).WithField("region", region).Warn("[dashboard] subregion boundaries unavailable")
			return
		}
		if !ok {
			return
		}
		d.mu.Lock()
		if d.region == region {
			d.subregions = idx
		}
		d.mu.Unlock()
	}()
}

// ZoomToCluster centres a cluster at the fixed cluster zoom.
func (d *Dashboard) ZoomToCluster(c mapengine.Cluster) {
	v := d.cfg.Viewport
	d.setTransform(mapengine.ZoomToPoint(c.X, c.Y, v.ClusterZoom, v.Width, v.Height))
	d.sched.GestureEnd()
}

// ClickAt resolves a click: a cluster marker wins, otherwise the region under
// the cursor is selected.
func (d *Dashboard) ClickAt(sx, sy float64) ClickResult {
	if c, ok := d.Layer().ClusterAt(sx, sy); ok {
		d.ZoomToCluster(c)
		return ClickResult{Cluster: &c}
	}
	lat, lng := d.builder.Projector.InvertScreen(sx, sy, d.Transform())
	reg, ok := d.opts.Regions.RegionAt(lat, lng)
	if !ok {
		return ClickResult{}
	}
	d.SelectRegion(reg.Name)
	return ClickResult{Region: reg.Name}
}

// Refresh replaces the collection with the backend's event list.
func (d *Dashboard) Refresh(ctx context.Context) error {
	if d.opts.Backend == nil {
		return ErrNoBackend
	}
	events, err := d.opts.Backend.FetchEvents(ctx)
	if err != nil {
		return err
	}
	for i := range events {
		d.locate(&events[i])
	}
	d.events.Replace(events)
	log.WithField("count", len(events)).Info("[dashboard] events refreshed")
	d.sched.Tick()
	return nil
}

// locate fills in coordinates from the reporter address for events that
// arrived without a fix.
func (d *Dashboard) locate(ev *intel.Event) {
	if d.opts.Geo == nil {
		return
	}
	if ip := intel.ReporterIP(ev); ip != "" && d.opts.Geo.Enrich(ev, ip) {
		log.WithFields(log.Fields{"id": ev.ID, "location": ev.Location}).Debug("[dashboard] located event from reporter address")
	}
}

// Submit inserts an operator report locally before the backend has seen it.
func (d *Dashboard) Submit(title, description string, sev intel.Severity, coords intel.Coords) intel.Event {
	ev := intel.NewLocalEvent(title, description, sev, coords, time.Now())
	d.events.Prepend(ev)
	d.sched.Tick()
	return ev
}

func (d *Dashboard) Verify(ctx context.Context, id string) error {
	return d.applyAction(ctx, id, backend.ActionVerify)
}

func (d *Dashboard) Escalate(ctx context.Context, id string) error {
	return d.applyAction(ctx, id, backend.ActionEscalate)
}

func (d *Dashboard) Archive(ctx context.Context, id string) error {
	return d.applyAction(ctx, id, backend.ActionArchive)
}

func (d *Dashboard) applyAction(ctx context.Context, id string, a backend.Action) error {
	if d.opts.Backend == nil {
		return ErrNoBackend
	}
	if _, ok := d.events.Get(id); !ok {
		return intel.ErrNotFound
	}
	ev, err := d.opts.Backend.UpdateStatus(ctx, id, a)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = id
	}
	if !d.events.Update(ev) {
		status, _ := a.Status()
		if err := d.events.ApplyStatus(id, status); err != nil {
			return err
		}
	}
	d.sched.Tick()
	return nil
}

// Handlers returns realtime callbacks that feed this dashboard.
func (d *Dashboard) Handlers() realtime.Handlers {
	return realtime.Handlers{
		OnStateChange: func(s realtime.State) {
			d.mu.Lock()
			d.link = s
			d.mu.Unlock()
		},
		OnEventCreated: func(ev intel.Event) {
			d.locate(&ev)
			d.events.Prepend(ev)
			d.sched.Tick()
			if ev.Severity == intel.SeverityCritical && d.opts.OnCritical != nil {
				d.opts.OnCritical(ev)
			}
		},
		OnEventUpdated: func(ev intel.Event) {
			if !d.events.Update(ev) {
				log.WithField("id", ev.ID).Debug("[dashboard] update for unknown event ignored")
				return
			}
			d.sched.Tick()
		},
		OnEventVerified: func(id string, verified bool) {
			if err := d.events.SetVerified(id, verified); err != nil {
				log.WithField("id", id).Debug("[dashboard] verification for unknown event ignored")
				return
			}
			d.sched.Tick()
		},
		OnSystemAlert: func(a realtime.SystemAlert) {
			log.WithFields(log.Fields{"level": a.Level, "message": a.Message}).Warn("[dashboard] system alert")
			if d.opts.OnAlert != nil {
				d.opts.OnAlert(a)
			}
		},
		OnResync: func() {
			if d.opts.Backend == nil {
				return
			}
			go func() {
				if err := d.Refresh(d.ctx); err != nil {
					log.WithError(err).Warn("[dashboard] resync after reconnect failed")
				}
			}()
		},
		OnError: func(err error) {
			log.WithError(err).Error("[dashboard] " + realtime.ExhaustedMessage)
		},
	}
}

// WarmStart loads the last snapshot into the collection.
func (d *Dashboard) WarmStart() (int, error) {
	if d.opts.Store == nil {
		return 0, nil
	}
	events, err := LoadSnapshot(d.opts.Store)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		d.events.Replace(events)
		d.sched.Tick()
	}
	return len(events), nil
}

func (d *Dashboard) SaveSnapshot() error {
	if d.opts.Store == nil {
		return nil
	}
	return SaveSnapshot(d.opts.Store, d.events.Snapshot())
}

// Close stops pending renders and writes a final snapshot.
func (d *Dashboard) Close() error {
	d.cancel()
	d.sched.Stop()
	return d.SaveSnapshot()
}
