package realtime

import (
	"encoding/json"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// Server to client message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeEventCreated          = "event_created"
	TypeEventUpdated          = "event_updated"
	TypeEventVerified         = "event_verified"
	TypeSystemAlert           = "system_alert"
	TypePong                  = "pong"
	TypeSubscribed            = "subscribed"
	TypeError                 = "error"
)

// Client to server message types.
const (
	TypePing            = "ping"
	TypeSubscribeRegion = "subscribe_region"
)

const defaultAlertLevel = "info"

// Envelope is the union of every field the feed sends. Which fields are set
// depends on Type.
type Envelope struct {
	Type     string          `json:"type"`
	Event    json.RawMessage `json:"event,omitempty"`
	EventID  intel.ID        `json:"event_id,omitempty"`
	Verified *bool           `json:"verified,omitempty"`
	Message  string          `json:"message,omitempty"`
	Level    string          `json:"level,omitempty"`
	Region   string          `json:"region,omitempty"`
}

// SystemAlert is a broadcast operator notice.
type SystemAlert struct {
	Message string
	Level   string
}

type pingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type subscribeMessage struct {
	Type   string `json:"type"`
	Region string `json:"region"`
}
