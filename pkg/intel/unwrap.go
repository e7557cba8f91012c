package intel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/apex/log"
)

// UnwrapList accepts either a bare JSON array or a paginated envelope of the
// form {"results": [...]}. Any other well-formed shape yields an empty list.
func UnwrapList(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decoding event list: %w", err)
		}
		return items, nil
	case '{':
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, fmt.Errorf("decoding event page: %w", err)
		}
		results := bytes.TrimSpace(page.Results)
		if len(results) == 0 || results[0] != '[' {
			log.Warn("[unwrap] object response without a results array")
			return nil, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(results, &items); err != nil {
			return nil, fmt.Errorf("decoding event page results: %w", err)
		}
		return items, nil
	}

	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("decoding event list: invalid JSON")
	}
	log.Warnf("[unwrap] unexpected response shape %q", string(trimmed[:1]))
	return nil, nil
}

// DecodeEvents unwraps a list response and normalizes every decodable item.
// Items that are not JSON objects are dropped with a warning.
func DecodeEvents(raw []byte) ([]Event, error) {
	items, err := UnwrapList(raw)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(items))
	for i, item := range items {
		ev, err := NormalizeJSON(item)
		if err != nil {
			log.WithError(err).WithField("index", i).Warn("[unwrap] dropping undecodable event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
