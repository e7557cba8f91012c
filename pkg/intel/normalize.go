package intel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/apex/log"
)

const (
	UnknownRegion  = "Unknown Region"
	UntitledEvent  = "Untitled Event"
	SourceInternal = "INTERNAL_REPORT"
)

var regionPattern = regexp.MustCompile(`generated in (.+) region`)

// ID accepts either a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// BackendEvent is the raw record the backend emits over REST and the realtime
// socket. Every field is optional.
type BackendEvent struct {
	ID               ID                `json:"id"`
	CreatedAt        string            `json:"created_at"`
	Category         string            `json:"category"`
	Severity         string            `json:"severity"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Latitude         *float64          `json:"latitude"`
	Longitude        *float64          `json:"longitude"`
	Status           string            `json:"status"`
	TrustScore       *float64          `json:"trust_score"`
	IPAddress        string            `json:"ip_address,omitempty"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
}

// Normalize maps a backend record onto an Event. It never fails; missing or
// invalid fields fall back to documented defaults.
func Normalize(be BackendEvent) Event {
	sev, _ := ParseSeverity(be.Severity)
	typ, _ := ParseEventType(be.Category)

	title := be.Title
	if title == "" {
		title = UntitledEvent
	}

	var coords Coords
	if be.Latitude != nil {
		coords.Lat = *be.Latitude
	}
	if be.Longitude != nil {
		coords.Lng = *be.Longitude
	}
	if !coords.Valid() {
		log.WithFields(log.Fields{"id": string(be.ID), "lat": coords.Lat, "lng": coords.Lng}).
			Warn("[normalize] coordinates out of range, clamping")
		coords = coords.Clamp()
	}

	status := Status(be.Status)
	if status == "" {
		status = StatusPending
	}

	meta := map[string]any{"media": be.MediaAttachments}
	if be.TrustScore != nil {
		meta["trust_score"] = *be.TrustScore
	} else {
		meta["trust_score"] = nil
	}

	return Event{
		ID:               string(be.ID),
		Timestamp:        parseTimestamp(be.CreatedAt),
		Type:             typ,
		Severity:         sev,
		Title:            title,
		Description:      be.Description,
		Location:         formatLocation(be.Latitude, be.Longitude),
		Region:           RegionFromDescription(be.Description),
		Coords:           coords,
		Source:           SourceInternal,
		Verified:         status == StatusVerified,
		Status:           status,
		Metadata:         meta,
		MediaAttachments: be.MediaAttachments,
	}
}

// NormalizeJSON decodes a single backend record and normalizes it. Only
// undecodable JSON is an error.
func NormalizeJSON(raw []byte) (Event, error) {
	var be BackendEvent
	if err := json.Unmarshal(raw, &be); err != nil {
		return Event{}, fmt.Errorf("decoding backend event: %w", err)
	}
	return Normalize(be), nil
}

// RegionFromDescription extracts the region from simulator-style
// descriptions ("... generated in {Region} region.").
func RegionFromDescription(desc string) string {
	if m := regionPattern.FindStringSubmatch(desc); len(m) == 2 && m[1] != "" {
		return m[1]
	}
	return UnknownRegion
}

func formatLocation(lat, lng *float64) string {
	f := func(v *float64) string {
		if v == nil {
			return "undefined"
		}
		return strconv.FormatFloat(*v, 'f', 4, 64)
	}
	return "Lat: " + f(lat) + ", Lng: " + f(lng)
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	log.WithField("created_at", raw).Debug("[normalize] unparseable timestamp")
	return time.Time{}
}
