package mapengine

import (
	"time"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// Layer is one committed render: clusters, residual markers and heat contours,
// all in map space. Apply Transform to reach the screen.
type Layer struct {
	Transform   Transform
	Fidelity    Fidelity
	Clusters    []Cluster
	Unclustered []ProjectedPoint
	Contours    []Contour
	EventCount  int
	BuiltAt     time.Time
}

// LayerBuilder turns an event snapshot and a view transform into a Layer.
type LayerBuilder struct {
	Projector Projector
	Clusters  ClusterEngine
	Heat      HeatmapEstimator
	now       func() time.Time
}

func NewLayerBuilder(c config.Config) *LayerBuilder {
	return &LayerBuilder{
		Projector: NewProjector(c.Viewport.Width, c.Viewport.Height, c.Viewport.ProjectionScale),
		Clusters:  NewClusterEngine(c.Cluster.Radius, c.Cluster.MinPoints, c.Cluster.MinVolume),
		Heat:      NewHeatmapEstimator(c.Heatmap),
		now:       time.Now,
	}
}

// Project places events in map space, preserving input order.
func (b *LayerBuilder) Project(events []*intel.Event) []ProjectedPoint {
	pts := make([]ProjectedPoint, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		x, y := b.Projector.Project(ev.Coords.Lat, ev.Coords.Lng)
		pts = append(pts, ProjectedPoint{Event: ev, X: x, Y: y})
	}
	return pts
}

// Build computes a layer. Heat contours are only produced for full-fidelity
// builds with the heat layer enabled; deferred builds leave Contours nil.
func (b *LayerBuilder) Build(events []*intel.Event, t Transform, f Fidelity, heatmap bool) *Layer {
	pts := b.Project(events)
	res := b.Clusters.Cluster(pts, t.scale())
	l := &Layer{
		Transform:   t,
		Fidelity:    f,
		Clusters:    res.Clusters,
		Unclustered: res.Unclustered,
		EventCount:  len(pts),
		BuiltAt:     b.now(),
	}
	if heatmap && f == FidelityFull {
		hp := make([]HeatPoint, len(pts))
		for i, p := range pts {
			hp[i] = HeatPoint{X: p.X, Y: p.Y, Severity: p.Event.Severity}
		}
		l.Contours = b.Heat.Estimate(hp, t.scale())
	}
	return l
}

// ClusterAt returns the cluster whose marker covers the screen point.
func (l *Layer) ClusterAt(sx, sy float64) (Cluster, bool) {
	if l == nil {
		return Cluster{}, false
	}
	mx, my := l.Transform.Invert(sx, sy)
	k := l.Transform.scale()
	for _, c := range l.Clusters {
		r := ClusterRadiusPx(c.Count, k)
		dx, dy := c.X-mx, c.Y-my
		if dx*dx+dy*dy <= r*r {
			return c, true
		}
	}
	return Cluster{}, false
}
