package viewer

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
	"time"

	"github.com/biter777/countries"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
)

const (
	bannerHold = 6 * time.Second
	bannerFade = 2 * time.Second
	topRegionN = 5
)

var (
	colorPanel  = color.RGBA{0, 0, 0, 100}
	colorBorder = color.RGBA{36, 42, 53, 255}
	colorAccent = color.RGBA{0, 191, 255, 255}
)

type banner struct {
	Text  string
	Level string
	At    time.Time
}

// alpha is the banner opacity at now: solid while held, then fading out.
func (b banner) alpha(now time.Time) float64 {
	if b.Text == "" {
		return 0
	}
	age := now.Sub(b.At)
	switch {
	case age < bannerHold:
		return 1
	case age >= bannerHold+bannerFade:
		return 0
	}
	return 1 - float64(age-bannerHold)/float64(bannerFade)
}

func levelColor(level string) color.RGBA {
	switch strings.ToLower(level) {
	case "critical", "error":
		return mapengine.ColorCritical
	case "warning", "warn":
		return mapengine.ColorMedium
	}
	return colorAccent
}

func linkColor(s realtime.State) color.RGBA {
	switch s {
	case realtime.StateConnected:
		return mapengine.ColorLow
	case realtime.StateConnecting, realtime.StateReconnecting:
		return mapengine.ColorMedium
	case realtime.StateFailed:
		return mapengine.ColorCritical
	}
	return color.RGBA{120, 120, 120, 255}
}

type regionCount struct {
	Name  string
	Count int
}

// topRegions ranks regions by active event count, ties broken by name.
func topRegions(events []*intel.Event, n int) []regionCount {
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.Region == "" || ev.Region == intel.UnknownRegion {
			continue
		}
		counts[ev.Region]++
	}
	out := make([]regionCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, regionCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// displayRegion shortens country names for the HUD. Names that are not
// countries pass through.
func displayRegion(name string) string {
	display := name
	if c := countries.ByName(name); c != countries.Unknown {
		display = c.String()
	}
	if idx := strings.Index(display, " ("); idx != -1 {
		display = display[:idx]
	}
	for _, short := range []string{"Hong Kong", "Macao", "Taiwan"} {
		if strings.Contains(display, short) {
			display = short
		}
	}
	const maxLen = 18
	if len(display) > maxLen {
		display = display[:maxLen-3] + "..."
	}
	return display
}

func (e *Engine) face(size float64, mono bool) *text.GoTextFace {
	src := e.fontSource
	if mono {
		src = e.monoSource
	}
	if src == nil {
		return nil
	}
	return &text.GoTextFace{Source: src, Size: size}
}

func drawText(screen *ebiten.Image, s string, face *text.GoTextFace, x, y float64, c color.RGBA, alpha float64) {
	if face == nil {
		return
	}
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(c)
	op.ColorScale.ScaleAlpha(float32(alpha))
	text.Draw(screen, s, face, op)
}

func (e *Engine) drawStatus(screen *ebiten.Image) {
	face := e.face(14, true)
	title := e.face(16, false)
	if face == nil || title == nil {
		return
	}
	x, y := 20.0, 20.0
	vector.DrawFilledRect(screen, float32(x-10), float32(y-10), 300, 118, colorPanel, false)
	vector.StrokeRect(screen, float32(x-10), float32(y-10), 300, 118, 1, colorBorder, false)
	vector.DrawFilledRect(screen, float32(x-10), float32(y-10), 4, 28, colorAccent, false)

	drawText(screen, "SENTINEL // SITUATIONAL MAP", title, x+2, y-4, color.RGBA{255, 255, 255, 255}, 0.8)

	link := e.dash.Link()
	vector.DrawFilledCircle(screen, float32(x+4), float32(y+32), 4, linkColor(link), true)
	drawText(screen, "LINK "+strings.ToUpper(link.String()), face, x+14, y+24, color.RGBA{255, 255, 255, 255}, 0.8)

	l := e.dash.Layer()
	onMap := 0
	if l != nil {
		onMap = l.EventCount
	}
	drawText(screen, fmt.Sprintf("EVENTS %d (%d ON MAP)", e.dash.Events().Len(), onMap), face, x, y+44, color.RGBA{255, 255, 255, 255}, 0.7)
	drawText(screen, fmt.Sprintf("ZOOM x%.1f", e.dash.Transform().K), face, x, y+64, color.RGBA{255, 255, 255, 255}, 0.7)

	sector := "GLOBAL"
	if r := e.dash.Region(); r != "" {
		sector = strings.ToUpper(displayRegion(r))
	}
	drawText(screen, "SECTOR "+sector, face, x, y+84, color.RGBA{255, 255, 255, 255}, 0.7)

	if link == realtime.StateFailed {
		drawText(screen, realtime.ExhaustedMessage, e.face(13, false), x, float64(e.Height)-40, mapengine.ColorCritical, 0.9)
	}
}

func (e *Engine) drawLegend(screen *ebiten.Image) {
	face := e.face(13, false)
	if face == nil {
		return
	}
	items := []struct {
		Label string
		Color color.RGBA
	}{
		{"Low", mapengine.ColorLow},
		{"Medium", mapengine.ColorMedium},
		{"High", mapengine.ColorHigh},
		{"Critical", mapengine.ColorCritical},
	}
	spacing := 22.0
	lx := 20.0
	ly := float64(e.Height) - 60 - float64(len(items)+1)*spacing
	for i, it := range items {
		ty := ly + float64(i)*spacing
		vector.DrawFilledCircle(screen, float32(lx+6), float32(ty+7), 6, it.Color, true)
		drawText(screen, it.Label, face, lx+20, ty, color.RGBA{255, 255, 255, 255}, 0.8)
	}
	heat := "HEAT OFF [H]"
	if e.dash.Heatmap() {
		heat = "HEAT ON [H]"
	}
	drawText(screen, heat, face, lx, ly+float64(len(items))*spacing, colorAccent, 0.7)
}

func (e *Engine) drawTopRegions(screen *ebiten.Image) {
	face := e.face(14, false)
	mono := e.face(14, true)
	if face == nil || mono == nil {
		return
	}
	top := topRegions(e.dash.Events().Active(), topRegionN)
	if len(top) == 0 {
		return
	}
	boxW, rowH := 240.0, 22.0
	x := float64(e.Width) - boxW - 20
	y := 20.0
	boxH := 36 + rowH*float64(len(top))
	vector.DrawFilledRect(screen, float32(x), float32(y), float32(boxW), float32(boxH), colorPanel, false)
	vector.StrokeRect(screen, float32(x), float32(y), float32(boxW), float32(boxH), 1, colorBorder, false)
	drawText(screen, "MOST ACTIVE SECTORS", e.face(12, false), x+10, y+8, color.RGBA{255, 255, 255, 255}, 0.5)

	for i, rc := range top {
		ry := y + 30 + float64(i)*rowH
		drawText(screen, displayRegion(rc.Name), face, x+10, ry, color.RGBA{255, 255, 255, 255}, 0.8)
		n := fmt.Sprintf("%d", rc.Count)
		tw, _ := text.Measure(n, mono, 0)
		drawText(screen, n, mono, x+boxW-tw-12, ry, color.RGBA{255, 255, 255, 255}, 0.6)
	}
}

func (e *Engine) drawBanner(screen *ebiten.Image) {
	e.bannerMu.Lock()
	b := e.banner
	e.bannerMu.Unlock()
	alpha := b.alpha(e.now())
	face := e.face(18, false)
	if alpha <= 0 || face == nil {
		return
	}
	tw, th := text.Measure(b.Text, face, 0)
	x := (float64(e.Width) - tw) / 2
	y := 24.0
	c := levelColor(b.Level)
	vector.DrawFilledRect(screen, float32(x-16), float32(y-8), float32(tw+32), float32(th+16), premultiply(color.RGBA{0, 0, 0, uint8(160 * alpha)}), false)
	vector.DrawFilledRect(screen, float32(x-16), float32(y-8), 4, float32(th+16), premultiply(color.RGBA{c.R, c.G, c.B, uint8(255 * alpha)}), false)
	drawText(screen, b.Text, face, x, y, color.RGBA{255, 255, 255, 255}, alpha)
}
