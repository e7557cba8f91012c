package dashboard

import (
	"encoding/json"
	"fmt"

	"github.com/apex/log"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

const snapshotPrefix = "events/"

// SaveSnapshot writes events to store in collection order, replacing any
// earlier snapshot.
func SaveSnapshot(store *utils.DiskStore, events []*intel.Event) error {
	entries := make(map[string][]byte, len(events))
	for i, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.ID, err)
		}
		entries[fmt.Sprintf("%s%08d", snapshotPrefix, i)] = b
	}
	return store.ReplacePrefix(snapshotPrefix, entries)
}

// LoadSnapshot reads the events saved by SaveSnapshot. Undecodable entries are
// skipped.
func LoadSnapshot(store *utils.DiskStore) ([]intel.Event, error) {
	var out []intel.Event
	err := store.ForEachPrefix(snapshotPrefix, func(k, v []byte) error {
		var ev intel.Event
		if err := json.Unmarshal(v, &ev); err != nil {
			log.WithError(err).WithField("key", string(k)).Warn("[snapshot] skipping undecodable event")
			return nil
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}
