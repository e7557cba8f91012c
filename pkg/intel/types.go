// Package intel holds the intelligence event model shared by the map core, the
// realtime feed and the analyst tooling, together with the normalizer that turns
// backend payloads into that model.
package intel

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrNotFound = errors.New("event not found")

// Severity is ordered: LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity matches case-insensitively. Unknown input reports false.
func ParseSeverity(raw string) (Severity, bool) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	for i, name := range severityNames {
		if name == up {
			return Severity(i), true
		}
	}
	return SeverityLow, false
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	*s = v
	return nil
}

type EventType string

const (
	TypeSensory       EventType = "SENSORY"
	TypeHumanReport   EventType = "HUMAN_REPORT"
	TypeAPIFeed       EventType = "API_FEED"
	TypeGeopolitical  EventType = "GEOPOLITICAL"
	TypeEnvironmental EventType = "ENVIRONMENTAL"
)

// ParseEventType maps a backend category onto the closed set of event types.
func ParseEventType(category string) (EventType, bool) {
	switch t := EventType(strings.ToUpper(strings.TrimSpace(category))); t {
	case TypeSensory, TypeHumanReport, TypeAPIFeed, TypeGeopolitical, TypeEnvironmental:
		return t, true
	}
	return TypeHumanReport, false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusEscalated Status = "ESCALATED"
	StatusArchived  Status = "ARCHIVED"
)

type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coords) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Clamp pulls out-of-range coordinates back onto the globe. NaN becomes 0.
func (c Coords) Clamp() Coords {
	clamp := func(v, limit float64) float64 {
		switch {
		case math.IsNaN(v):
			return 0
		case v > limit:
			return limit
		case v < -limit:
			return -limit
		}
		return v
	}
	return Coords{Lat: clamp(c.Lat, 90), Lng: clamp(c.Lng, 180)}
}

func (c Coords) IsZero() bool { return c.Lat == 0 && c.Lng == 0 }

type MediaAttachment struct {
	ID        string         `json:"id"`
	File      string         `json:"file"`
	FileType  string         `json:"file_type"`
	FileHash  string         `json:"file_hash,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// Event is a single geotagged incident as the dashboard sees it.
type Event struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	Type             EventType         `json:"type"`
	Severity         Severity          `json:"severity"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Location         string            `json:"location"`
	Region           string            `json:"region"`
	Coords           Coords            `json:"coords"`
	Source           string            `json:"source"`
	Verified         bool              `json:"verified"`
	Status           Status            `json:"status,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	MediaAttachments []MediaAttachment `json:"media_attachments,omitempty"`
}

func (e *Event) Archived() bool { return e.Status == StatusArchived }
