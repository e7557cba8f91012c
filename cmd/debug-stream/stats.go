package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
)

// Stats tallies everything seen on the feed since StartTime.
type Stats struct {
	mu         sync.Mutex
	Total      int
	Malformed  int
	Dropped    int
	ByType     map[string]int
	BySeverity map[intel.Severity]int
	ByRegion   map[string]int
	Updates    map[string]int
	Flips      int
	Alerts     []string
	LastEvent  time.Time
	StartTime  time.Time
	now        func() time.Time
}

func NewStats(start time.Time) *Stats {
	return &Stats{
		ByType:     make(map[string]int),
		BySeverity: make(map[intel.Severity]int),
		ByRegion:   make(map[string]int),
		Updates:    make(map[string]int),
		StartTime:  start,
		now:        time.Now,
	}
}

// Record decodes one frame. With out set the frame is echoed there indented.
func (s *Stats) Record(msg []byte, out io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Total++
	var env realtime.Envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
		s.Malformed++
		return
	}
	s.ByType[env.Type]++

	switch env.Type {
	case realtime.TypeEventCreated, realtime.TypeEventUpdated:
		if len(env.Event) == 0 {
			s.Dropped++
			break
		}
		ev, err := intel.NormalizeJSON(env.Event)
		if err != nil {
			s.Dropped++
			break
		}
		s.LastEvent = s.now()
		if env.Type == realtime.TypeEventCreated {
			s.BySeverity[ev.Severity]++
			s.ByRegion[ev.Region]++
		} else {
			s.Updates[ev.ID]++
		}
	case realtime.TypeEventVerified:
		if env.EventID == "" || env.Verified == nil {
			s.Dropped++
			break
		}
		s.Flips++
	case realtime.TypeSystemAlert:
		level := env.Level
		if level == "" {
			level = "info"
		}
		s.Alerts = append(s.Alerts, fmt.Sprintf("[%s] %s", level, env.Message))
		if len(s.Alerts) > 5 {
			s.Alerts = s.Alerts[len(s.Alerts)-5:]
		}
	}

	if out != nil {
		var pretty bytes.Buffer
		_ = json.Indent(&pretty, msg, "", "  ")
		fmt.Fprintf(out, "%s\n\n", pretty.String())
	}
}

func (s *Stats) Report(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.now().Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	fmt.Fprintf(w, "\033[H\033[2J")
	fmt.Fprintf(w, "Sentinel Feed Monitor (running for %.1fs)\n", elapsed)
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "Frames:      %d (%.2f/s)\n", s.Total, float64(s.Total)/elapsed)
	fmt.Fprintf(w, "Malformed:   %d\n", s.Malformed)
	fmt.Fprintf(w, "Dropped:     %d\n", s.Dropped)
	for _, t := range sortedKeys(s.ByType) {
		fmt.Fprintf(w, "  %-24s %d\n", t, s.ByType[t])
	}
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "NEW EVENTS BY SEVERITY:\n")
	for sev := intel.SeverityCritical; sev >= intel.SeverityLow; sev-- {
		fmt.Fprintf(w, "  %-9s %d\n", sev, s.BySeverity[sev])
	}
	fmt.Fprintf(w, "--------------------------------------------------\n")

	fmt.Fprintf(w, "LIKELY CONCLUSIONS:\n")
	conclusions := s.analyze(elapsed)
	if len(conclusions) == 0 {
		fmt.Fprintf(w, "  - Feed appears healthy\n")
	}
	for _, c := range conclusions {
		fmt.Fprintf(w, "  - %s\n", c)
	}
	fmt.Fprintf(w, "--------------------------------------------------\n")

	if regions := s.topRegions(5); len(regions) > 0 {
		fmt.Fprintf(w, "Top %d Regions:\n", len(regions))
		for _, r := range regions {
			fmt.Fprintf(w, "  %s: %d events\n", r.Name, r.Count)
		}
	}
	if len(s.Alerts) > 0 {
		fmt.Fprintf(w, "Recent Alerts:\n")
		for _, a := range s.Alerts {
			fmt.Fprintf(w, "  %s\n", a)
		}
	}
}

type regionTally struct {
	Name  string
	Count int
}

func (s *Stats) topRegions(n int) []regionTally {
	list := make([]regionTally, 0, len(s.ByRegion))
	for name, c := range s.ByRegion {
		list = append(list, regionTally{name, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count != list[j].Count {
			return list[i].Count > list[j].Count
		}
		return list[i].Name < list[j].Name
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}

func (s *Stats) analyze(elapsed float64) []string {
	var results []string
	created := s.ByType[realtime.TypeEventCreated]

	if s.Total > 20 && float64(s.Malformed+s.Dropped)/float64(s.Total) > 0.05 {
		results = append(results, "Malformed traffic (more than 5% of frames could not be used)")
	}

	if crit := s.BySeverity[intel.SeverityCritical]; created >= 10 && float64(crit)/float64(created) > 0.25 {
		results = append(results, "Critical surge (over a quarter of new events are CRITICAL)")
	}

	churned := 0
	for _, n := range s.Updates {
		if n > 3 {
			churned++
		}
	}
	if churned > 0 {
		results = append(results, fmt.Sprintf("Update churn (%d events rewritten more than 3 times)", churned))
	}

	if s.Flips > 10 && float64(s.Flips)/elapsed > 0.5 {
		results = append(results, "Verification flapping (analysts toggling verified state rapidly)")
	}

	if elapsed > 60 && (s.LastEvent.IsZero() || s.now().Sub(s.LastEvent) > time.Minute) {
		results = append(results, "Silent feed (no event traffic for over a minute)")
	}

	if rate := float64(created) / elapsed; rate > 5 {
		results = append(results, fmt.Sprintf("Event flood (%.1f new events/s)", rate))
	}

	return results
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
