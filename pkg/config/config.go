// Package config holds the map profile: the tunable constants behind
// clustering, the heat layer, render scheduling and the realtime feed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ViewportConfig struct {
	Width           float64 `yaml:"width"`
	Height          float64 `yaml:"height"`
	ProjectionScale float64 `yaml:"projection_scale"`
	MinZoom         float64 `yaml:"min_zoom"`
	MaxZoom         float64 `yaml:"max_zoom"`
	ClusterZoom     float64 `yaml:"cluster_zoom"`    // fixed scale used when a cluster is clicked
	RegionZoomCap   float64 `yaml:"region_zoom_cap"` // upper bound for zoom-to-region
	RegionPadding   float64 `yaml:"region_padding"`  // fraction of the viewport a region may fill
}

type ClusterConfig struct {
	Radius    float64 `yaml:"radius"`     // screen units at k=1
	MinPoints int     `yaml:"min_points"` // including the seed
	MinVolume int     `yaml:"min_volume"` // below this clustering is skipped
}

type HeatmapConfig struct {
	BandwidthBase float64 `yaml:"bandwidth_base"`
	BandwidthMin  float64 `yaml:"bandwidth_min"`
	Thresholds    int     `yaml:"thresholds"`
	CellSize      float64 `yaml:"cell_size"`
	Weights       Weights `yaml:"weights"`
}

type Weights struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

type RenderConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type RealtimeConfig struct {
	URL         string        `yaml:"url"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	Region      string        `yaml:"region"` // subscribed after connect when set
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Viewport ViewportConfig `yaml:"viewport"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
	Render   RenderConfig   `yaml:"render"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Backend  BackendConfig  `yaml:"backend"`
}

func Default() Config {
	return Config{
		Viewport: ViewportConfig{
			Width:           1000,
			Height:          600,
			ProjectionScale: 160,
			MinZoom:         1,
			MaxZoom:         20,
			ClusterZoom:     6,
			RegionZoomCap:   8,
			RegionPadding:   0.9,
		},
		Cluster: ClusterConfig{Radius: 50, MinPoints: 2, MinVolume: 5},
		Heatmap: HeatmapConfig{
			BandwidthBase: 30,
			BandwidthMin:  5,
			Thresholds:    10,
			CellSize:      4,
			Weights:       Weights{Low: 1, Medium: 2, High: 3, Critical: 5},
		},
		Render: RenderConfig{Debounce: 300 * time.Millisecond},
		Realtime: RealtimeConfig{
			URL:         "ws://localhost:8000/ws/events/",
			BaseDelay:   time.Second,
			MaxAttempts: 5,
			Heartbeat:   30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000/api/v1",
			Timeout: 15 * time.Second,
		},
	}
}

// Load overlays the YAML file at path onto Default. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		errs = append(errs, errors.New("viewport must have a positive size"))
	}
	if c.Viewport.MinZoom <= 0 || c.Viewport.MaxZoom < c.Viewport.MinZoom {
		errs = append(errs, fmt.Errorf("invalid zoom extent [%g, %g]", c.Viewport.MinZoom, c.Viewport.MaxZoom))
	}
	if c.Cluster.Radius <= 0 {
		errs = append(errs, errors.New("cluster.radius must be positive"))
	}
	if c.Cluster.MinPoints < 1 {
		errs = append(errs, errors.New("cluster.min_points must be at least 1"))
	}
	if c.Heatmap.Thresholds < 1 {
		errs = append(errs, errors.New("heatmap.thresholds must be at least 1"))
	}
	if c.Heatmap.BandwidthMin <= 0 || c.Heatmap.BandwidthBase <= 0 {
		errs = append(errs, errors.New("heatmap bandwidths must be positive"))
	}
	if c.Heatmap.CellSize <= 0 {
		errs = append(errs, errors.New("heatmap.cell_size must be positive"))
	}
	if c.Render.Debounce < 0 {
		errs = append(errs, errors.New("render.debounce must not be negative"))
	}
	if c.Realtime.MaxAttempts < 0 || c.Realtime.BaseDelay <= 0 {
		errs = append(errs, errors.New("realtime backoff settings are invalid"))
	}
	return errors.Join(errs...)
}
