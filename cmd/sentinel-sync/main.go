// sentinel-sync keeps a headless dashboard in step with the realtime feed and
// serves the map layer, event list and metrics over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/apex/log"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/dashboard"
	"github.com/sentinelcore/sentinel-stream/pkg/httpapi"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
	"github.com/sentinelcore/sentinel-stream/pkg/sources"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

type CLI struct {
	config.Flags   `embed:""`
	utils.LogFlags `embed:""`

	Listen       string        `help:"HTTP listen address." default:":9090" env:"SENTINEL_LISTEN"`
	DataDir      string        `help:"Snapshot database directory. Empty disables snapshots." default:"data/snapshot" env:"SENTINEL_DATA_DIR"`
	SnapshotEach time.Duration `help:"Snapshot interval." default:"1m" env:"SENTINEL_SNAPSHOT_INTERVAL"`
	World        string        `help:"World boundaries GeoJSON URL." default:"${world_url}" env:"SENTINEL_WORLD_URL"`
	GeoIP        string        `name:"geoip" help:"MaxMind database used to locate reports without coordinates." type:"path" env:"SENTINEL_GEOIP"`
}

func main() {
	if err := utils.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("loading .env")
	}
	var cli CLI
	kong.Parse(&cli,
		kong.Name("sentinel-sync"),
		kong.Description("Headless situational map synchronised with the event feed."),
		kong.Vars{"world_url": sources.WorldGeoJSONURL},
	)
	if err := cli.LogFlags.Setup(); err != nil {
		log.WithError(err).Fatal("configuring logging")
	}
	cfg, err := cli.Flags.Load()
	if err != nil {
		log.WithError(err).Fatal("loading map profile")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := dashboard.Options{
		Config:     cfg,
		Backend:    backend.NewClient(cfg.Backend),
		Subregions: mapengine.NewSubregionLoader(utils.GetCachedReader),
	}
	if opts.Regions, err = mapengine.FetchRegionIndex(utils.GetCachedReader, cli.World, "[world]"); err != nil {
		log.WithError(err).Warn("[main] world boundaries unavailable, region selection disabled")
	}
	if cli.DataDir != "" {
		if opts.Store, err = utils.OpenDiskStore(cli.DataDir); err != nil {
			log.WithError(err).Fatal("opening snapshot store")
		}
		defer func() {
			if err := opts.Store.Close(); err != nil {
				log.WithError(err).Error("closing snapshot store")
			}
		}()
	}
	if cli.GeoIP != "" {
		if opts.Geo, err = intel.OpenGeoResolver(cli.GeoIP); err != nil {
			log.WithError(err).Warn("[main] geoip disabled")
		} else {
			defer opts.Geo.Close()
		}
	}

	dash := dashboard.New(opts)
	if n, err := dash.WarmStart(); err != nil {
		log.WithError(err).Warn("[main] snapshot unreadable")
	} else if n > 0 {
		log.WithField("events", n).Info("[main] warm start from snapshot")
	}
	if err := dash.Refresh(ctx); err != nil {
		log.WithError(err).Warn("[main] initial event fetch failed, waiting for the feed")
	}
	dash.Render()

	feed := realtime.NewClient(realtime.OptionsFromConfig(cfg.Realtime), dash.Handlers())
	feed.Connect()

	go snapshotLoop(ctx, dash, cli.SnapshotEach)

	if err := httpapi.New(dash).ListenAndServe(ctx, cli.Listen); err != nil {
		log.WithError(err).Error("[main] http server stopped")
	}

	log.Info("[main] shutting down")
	if err := feed.Close(); err != nil {
		log.WithError(err).Warn("closing feed")
	}
	if err := dash.Close(); err != nil {
		log.WithError(err).Error("writing final snapshot")
	}
}

func snapshotLoop(ctx context.Context, d *dashboard.Dashboard, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.SaveSnapshot(); err != nil {
				log.WithError(err).Warn("[main] periodic snapshot failed")
			}
		}
	}
}
