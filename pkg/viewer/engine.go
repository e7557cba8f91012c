// Package viewer draws the dashboard's map layer in an ebiten window and turns
// mouse and keyboard input into dashboard gestures.
package viewer

import (
	"bytes"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sentinelcore/sentinel-stream/pkg/dashboard"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
)

// pulsePeriod is the cycle of the ring drawn around critical markers.
const pulsePeriod = 1500 * time.Millisecond

type Options struct {
	World      *mapengine.RegionIndex
	CaptureDir string
	Alerts     *AlertPlayer
}

// Engine implements ebiten.Game over a dashboard.
type Engine struct {
	Width, Height int

	dash *dashboard.Dashboard
	proj mapengine.Projector
	opts Options

	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource

	input gesture

	// rasters of the last committed layer, drawn relative to the live transform
	frame     *mapengine.Layer
	frameSub  *mapengine.RegionIndex
	bgImage   *ebiten.Image
	heatImage *ebiten.Image

	bannerMu sync.Mutex
	banner   banner

	captureNext bool
	now         func() time.Time
}

func NewEngine(d *dashboard.Dashboard, opts Options) *Engine {
	s, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		log.WithError(err).Warn("[viewer] loading regular font")
	}
	m, err := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))
	if err != nil {
		log.WithError(err).Warn("[viewer] loading mono font")
	}
	v := d.Config().Viewport
	return &Engine{
		Width:      int(v.Width),
		Height:     int(v.Height),
		dash:       d,
		proj:       mapengine.NewProjector(v.Width, v.Height, v.ProjectionScale),
		opts:       opts,
		fontSource: s,
		monoSource: m,
		now:        time.Now,
	}
}

// ShowAlert puts a system alert on the banner and sounds the chime.
func (e *Engine) ShowAlert(a realtime.SystemAlert) {
	e.bannerMu.Lock()
	e.banner = banner{Text: a.Message, Level: a.Level, At: e.now()}
	e.bannerMu.Unlock()
	e.opts.Alerts.Play()
}

// NotifyCritical announces a critical event.
func (e *Engine) NotifyCritical(ev intel.Event) {
	e.ShowAlert(realtime.SystemAlert{Message: "CRITICAL: " + ev.Title, Level: "critical"})
}

func (e *Engine) Update() error {
	e.handleInput()
	e.refreshFrame()
	return nil
}

func (e *Engine) handleInput() {
	now := e.now()
	cx, cy := ebiten.CursorPosition()
	x, y := float64(cx), float64(cy)

	if _, wy := ebiten.Wheel(); wy != 0 {
		e.dash.Zoom(e.input.wheel(wy, now), x, y)
	} else if e.input.wheelEnded(now) {
		e.dash.GestureEnd()
	}

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		e.input.press(x, y)
	}
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		if dx, dy, ok := e.input.move(x, y); ok {
			e.dash.Pan(dx, dy)
		}
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		click, ended := e.input.release()
		switch {
		case click:
			res := e.dash.ClickAt(x, y)
			if res.Cluster != nil {
				log.WithField("count", res.Cluster.Count).Debug("[viewer] cluster clicked")
			}
		case ended:
			e.dash.GestureEnd()
		}
	}

	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyH):
		on := e.dash.ToggleHeatmap()
		log.WithField("heatmap", on).Info("[viewer] heat layer toggled")
	case inpututil.IsKeyJustPressed(ebiten.KeyR), inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		e.dash.ResetView()
	case inpututil.IsKeyJustPressed(ebiten.KeyC):
		e.captureNext = true
	}
}

// refreshFrame re-rasterises the basemap and heat layer when a new layer has
// been committed or the drill-down boundaries arrived.
func (e *Engine) refreshFrame() {
	l := e.dash.Layer()
	sub := e.dash.Subregions()
	if l == nil || (l == e.frame && sub == e.frameSub) {
		return
	}
	bg := renderBasemap(basemap{World: e.opts.World, Subregions: sub, Selected: e.dash.Region()}, e.proj, l.Transform, e.Width, e.Height)
	replaceImage(&e.bgImage, ebiten.NewImageFromImage(bg))

	if len(l.Contours) > 0 {
		replaceImage(&e.heatImage, ebiten.NewImageFromImage(renderHeat(l.Contours, l.Transform, e.Width, e.Height)))
	} else {
		replaceImage(&e.heatImage, nil)
	}
	e.frame, e.frameSub = l, sub
}

func replaceImage(dst **ebiten.Image, img *ebiten.Image) {
	if *dst != nil {
		(*dst).Deallocate()
	}
	*dst = img
}

func (e *Engine) Draw(screen *ebiten.Image) {
	screen.Fill(colorWater)
	live := e.dash.Transform()

	if e.frame != nil {
		s, tx, ty := relativeTransform(e.frame.Transform, live)
		op := &ebiten.DrawImageOptions{Filter: ebiten.FilterLinear}
		op.GeoM.Scale(s, s)
		op.GeoM.Translate(tx, ty)
		if e.bgImage != nil {
			screen.DrawImage(e.bgImage, op)
		}
		if e.heatImage != nil {
			screen.DrawImage(e.heatImage, op)
		}
	}

	if l := e.dash.Layer(); l != nil {
		e.drawMarkers(screen, l, live)
		e.drawClusters(screen, l, live)
	}

	e.drawLegend(screen)
	e.drawStatus(screen)
	e.drawTopRegions(screen)
	e.drawBanner(screen)

	if e.captureNext {
		e.captureNext = false
		e.captureFrame(screen, "manual", e.now())
	}
}

func (e *Engine) drawMarkers(screen *ebiten.Image, l *mapengine.Layer, t mapengine.Transform) {
	now := e.now()
	progress := float64(now.UnixNano()%int64(pulsePeriod)) / float64(pulsePeriod)
	for _, p := range l.Unclustered {
		sx, sy := t.Apply(p.X, p.Y)
		if sx < -20 || sy < -20 || sx > float64(e.Width)+20 || sy > float64(e.Height)+20 {
			continue
		}
		c := mapengine.SeverityColor(p.Event.Severity)
		if p.Event.Severity == intel.SeverityCritical {
			alpha := (1 - progress) * 0.6
			ring := color.RGBA{c.R, c.G, c.B, uint8(alpha * 255)}
			vector.StrokeCircle(screen, float32(sx), float32(sy), float32(5+progress*14), 1.5, premultiply(ring), true)
		}
		vector.DrawFilledCircle(screen, float32(sx), float32(sy), 5, c, true)
		if p.Event.Verified {
			vector.StrokeCircle(screen, float32(sx), float32(sy), 6.5, 1.5, color.White, true)
		}
	}
}

func (e *Engine) drawClusters(screen *ebiten.Image, l *mapengine.Layer, t mapengine.Transform) {
	k := t.K
	if k <= 0 {
		k = 1
	}
	var face *text.GoTextFace
	if e.monoSource != nil {
		face = &text.GoTextFace{Source: e.monoSource, Size: 13}
	}
	for _, c := range l.Clusters {
		sx, sy := t.Apply(c.X, c.Y)
		r := mapengine.ClusterRadiusPx(c.Count, k) * k
		col := mapengine.ClusterColor(c.Count)
		fill := premultiply(color.RGBA{col.R, col.G, col.B, 200})
		vector.DrawFilledCircle(screen, float32(sx), float32(sy), float32(r), fill, true)
		vector.StrokeCircle(screen, float32(sx), float32(sy), float32(r), 2, color.RGBA{255, 255, 255, 200}, true)
		if face == nil {
			continue
		}
		label := mapengine.ClusterLabel(c.Count)
		tw, th := text.Measure(label, face, 0)
		op := &text.DrawOptions{}
		op.GeoM.Translate(sx-tw/2, sy-th/2)
		text.Draw(screen, label, face, op)
	}
}

// premultiply converts a straight-alpha colour for ebiten's vector helpers.
func premultiply(c color.RGBA) color.RGBA {
	a := float64(c.A) / 255
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * a)),
		G: uint8(math.Round(float64(c.G) * a)),
		B: uint8(math.Round(float64(c.B) * a)),
		A: c.A,
	}
}

func (e *Engine) Layout(w, h int) (int, int) { return e.Width, e.Height }
