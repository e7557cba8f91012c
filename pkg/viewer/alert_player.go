package viewer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/dhowden/tag"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/go-mp3"
)

// defaultCooldown keeps a burst of critical events from stacking chimes.
const defaultCooldown = 3 * time.Second

// AlertPlayer plays a short MP3 chime for critical events and system alerts.
// A nil *AlertPlayer is silent.
type AlertPlayer struct {
	Title  string
	Artist string

	ctx  *audio.Context
	pcm  []byte
	gate alertGate
}

// alertGate rate-limits chimes.
type alertGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
}

func (g *alertGate) allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}

// NewAlertPlayer decodes the chime at path up front so playing it never
// touches the disk.
func NewAlertPlayer(path string) (*AlertPlayer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := &AlertPlayer{gate: alertGate{cooldown: defaultCooldown}}

	p.Title, p.Artist = titleFromName(path)
	if m, err := tag.ReadFrom(bytes.NewReader(b)); err == nil && m.Title() != "" {
		p.Title, p.Artist = m.Title(), m.Artist()
	}

	d, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if p.pcm, err = io.ReadAll(d); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	p.ctx = audio.CurrentContext()
	if p.ctx == nil {
		p.ctx = audio.NewContext(d.SampleRate())
	} else if p.ctx.SampleRate() != d.SampleRate() {
		log.WithFields(log.Fields{"chime": d.SampleRate(), "context": p.ctx.SampleRate()}).Warn("[audio] chime sample rate differs from the audio context")
	}
	log.WithFields(log.Fields{"title": p.Title, "bytes": len(p.pcm)}).Info("[audio] alert chime loaded")
	return p, nil
}

// titleFromName splits "Song - Artist.mp3" style file names.
func titleFromName(path string) (song, artist string) {
	full := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if parts := strings.SplitN(full, " - ", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return full, ""
}

// Play starts the chime unless one played within the cooldown. It reports
// whether a chime started.
func (p *AlertPlayer) Play() bool {
	if p == nil || p.ctx == nil || !p.gate.allow(time.Now()) {
		return false
	}
	player := p.ctx.NewPlayerFromBytes(p.pcm)
	player.Play()
	return true
}
