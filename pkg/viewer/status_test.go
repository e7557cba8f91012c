package viewer

import (
	"image/color"
	"reflect"
	"testing"
	"time"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
)

func TestTopRegions(t *testing.T) {
	var events []*intel.Event
	add := func(region string, n int) {
		for i := 0; i < n; i++ {
			events = append(events, &intel.Event{Region: region})
		}
	}
	add("Kenya", 3)
	add("Nigeria", 5)
	add("Ghana", 3)
	add(intel.UnknownRegion, 9)
	add("", 2)
	add("Chad", 1)

	got := topRegions(events, 3)
	want := []regionCount{{"Nigeria", 5}, {"Ghana", 3}, {"Kenya", 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topRegions = %v, want %v", got, want)
	}
	if got := topRegions(nil, 5); len(got) != 0 {
		t.Errorf("topRegions(nil) = %v, want empty", got)
	}
}

func TestDisplayRegion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Kenya", "Kenya"},
		{"Kano", "Kano"},
		{"Northern Frontier Districts", "Northern Fronti..."},
	}
	for _, tt := range tests {
		if got := displayRegion(tt.in); got != tt.want {
			t.Errorf("displayRegion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBannerAlpha(t *testing.T) {
	at := time.Unix(5000, 0)
	b := banner{Text: "Feed degraded", At: at}
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1},
		{bannerHold - time.Millisecond, 1},
		{bannerHold + bannerFade/2, 0.5},
		{bannerHold + bannerFade, 0},
	}
	for _, tt := range tests {
		if got := b.alpha(at.Add(tt.age)); got != tt.want {
			t.Errorf("alpha after %v = %g, want %g", tt.age, got, tt.want)
		}
	}
	if got := (banner{}).alpha(at); got != 0 {
		t.Errorf("empty banner alpha = %g, want 0", got)
	}
}

func TestStatusColors(t *testing.T) {
	if got := linkColor(realtime.StateConnected); got != mapengine.ColorLow {
		t.Errorf("connected colour = %v", got)
	}
	if got := linkColor(realtime.StateFailed); got != mapengine.ColorCritical {
		t.Errorf("failed colour = %v", got)
	}
	if got := levelColor("WARNING"); got != mapengine.ColorMedium {
		t.Errorf("warning colour = %v", got)
	}
	if got := levelColor("info"); got != colorAccent {
		t.Errorf("info colour = %v", got)
	}
}

func TestPremultiply(t *testing.T) {
	got := premultiply(mapengine.ColorCritical)
	if got != mapengine.ColorCritical {
		t.Errorf("opaque colour changed: %v", got)
	}
	half := premultiply(color.RGBA{colorAccent.R, colorAccent.G, colorAccent.B, 128})
	if half.R > half.A || half.G > half.A || half.B > half.A || half.A != 128 {
		t.Errorf("premultiplied = %v, channels must not exceed alpha", half)
	}
}
