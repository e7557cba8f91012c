package mapengine

import (
	"fmt"
	"testing"
	"time"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

func lagosEvents(n int) []*intel.Event {
	evs := make([]*intel.Event, n)
	for i := range evs {
		evs[i] = &intel.Event{
			ID:       fmt.Sprintf("lagos-%d", i),
			Severity: intel.SeverityHigh,
			Coords:   intel.Coords{Lat: 6.52 + float64(i)*0.01, Lng: 3.37},
		}
	}
	return evs
}

func TestLayerBuild(t *testing.T) {
	b := NewLayerBuilder(config.Default())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	events := append(lagosEvents(8), &intel.Event{ID: "sydney", Coords: intel.Coords{Lat: -33.87, Lng: 151.21}}, nil)

	deferred := b.Build(events, Identity, FidelityDeferred, true)
	if deferred.EventCount != 9 {
		t.Errorf("EventCount = %d, want 9", deferred.EventCount)
	}
	if len(deferred.Clusters) != 1 || deferred.Clusters[0].Count != 8 {
		t.Fatalf("clusters = %+v, want one of 8", deferred.Clusters)
	}
	if len(deferred.Unclustered) != 1 || deferred.Unclustered[0].Event.ID != "sydney" {
		t.Errorf("unclustered = %+v", deferred.Unclustered)
	}
	if deferred.Contours != nil {
		t.Error("deferred build should skip heat contours")
	}
	if !deferred.BuiltAt.Equal(fixed) {
		t.Errorf("BuiltAt = %v", deferred.BuiltAt)
	}

	full := b.Build(events, Identity, FidelityFull, true)
	if len(full.Contours) == 0 {
		t.Error("full build with heat enabled produced no contours")
	}
	noHeat := b.Build(events, Identity, FidelityFull, false)
	if noHeat.Contours != nil {
		t.Error("heat disabled but contours were built")
	}
}

func TestLayerClusterAt(t *testing.T) {
	b := NewLayerBuilder(config.Default())
	tr := Transform{X: -200, Y: -100, K: 2}
	l := b.Build(lagosEvents(8), tr, FidelityDeferred, false)
	if len(l.Clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(l.Clusters))
	}
	sx, sy := tr.Apply(l.Clusters[0].X, l.Clusters[0].Y)

	c, ok := l.ClusterAt(sx+3, sy-3)
	if !ok || c.Count != 8 {
		t.Errorf("ClusterAt near centre = %+v, %v", c, ok)
	}
	if _, ok := l.ClusterAt(sx+400, sy); ok {
		t.Error("ClusterAt far away should miss")
	}
	var nilLayer *Layer
	if _, ok := nilLayer.ClusterAt(0, 0); ok {
		t.Error("nil layer should miss")
	}
}
