// sentinel-viewer shows the situational map in a desktop window.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/apex/log"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sentinelcore/sentinel-stream/pkg/backend"
	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/dashboard"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
	"github.com/sentinelcore/sentinel-stream/pkg/mapengine"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
	"github.com/sentinelcore/sentinel-stream/pkg/sources"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
	"github.com/sentinelcore/sentinel-stream/pkg/viewer"
)

type CLI struct {
	config.Flags   `embed:""`
	utils.LogFlags `embed:""`

	World       string  `help:"World boundaries GeoJSON URL." default:"${world_url}" env:"SENTINEL_WORLD_URL"`
	GeoIP       string  `name:"geoip" help:"MaxMind database used to locate reports without coordinates." type:"path" env:"SENTINEL_GEOIP"`
	Chime       string  `help:"MP3 played on critical events and system alerts." type:"path" env:"SENTINEL_CHIME"`
	CaptureDir  string  `help:"Directory for frames captured with C." default:"captures" env:"SENTINEL_CAPTURE_DIR"`
	WindowScale float64 `help:"Window size relative to the map viewport." default:"1.0"`
	TPS         int     `name:"tps" help:"Engine updates per second." default:"30"`
	Fullscreen  bool    `help:"Start fullscreen."`
}

func main() {
	if err := utils.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("loading .env")
	}
	var cli CLI
	kong.Parse(&cli,
		kong.Name("sentinel-viewer"),
		kong.Description("Situational map viewer. Drag to pan, scroll to zoom, click a cluster or region to focus, H toggles the heat layer, R resets, C captures a frame."),
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

	var engine *viewer.Engine
	opts := dashboard.Options{
		Config:     cfg,
		Backend:    backend.NewClient(cfg.Backend),
		Subregions: mapengine.NewSubregionLoader(utils.GetCachedReader),
		OnAlert: func(a realtime.SystemAlert) {
			if engine != nil {
				engine.ShowAlert(a)
			}
		},
		OnCritical: func(ev intel.Event) {
			if engine != nil {
				engine.NotifyCritical(ev)
			}
		},
	}
	if opts.Regions, err = mapengine.FetchRegionIndex(utils.GetCachedReader, cli.World, "[world]"); err != nil {
		log.WithError(err).Warn("[main] world boundaries unavailable, drawing without a basemap")
	}
	if cli.GeoIP != "" {
		if opts.Geo, err = intel.OpenGeoResolver(cli.GeoIP); err != nil {
			log.WithError(err).Warn("[main] geoip disabled")
		} else {
			defer opts.Geo.Close()
		}
	}

	dash := dashboard.New(opts)
	defer dash.Close()

	var alerts *viewer.AlertPlayer
	if cli.Chime != "" {
		if alerts, err = viewer.NewAlertPlayer(cli.Chime); err != nil {
			log.WithError(err).Warn("[main] alert chime disabled")
		}
	}
	engine = viewer.NewEngine(dash, viewer.Options{World: opts.Regions, CaptureDir: cli.CaptureDir, Alerts: alerts})

	go func() {
		if err := dash.Refresh(ctx); err != nil {
			log.WithError(err).Warn("[main] initial event fetch failed, waiting for the feed")
		}
		dash.Render()
	}()
	dash.Render()

	feed := realtime.NewClient(realtime.OptionsFromConfig(cfg.Realtime), dash.Handlers())
	feed.Connect()
	defer feed.Close()

	ebiten.SetTPS(cli.TPS)
	ebiten.SetWindowSize(int(float64(engine.Width)*cli.WindowScale), int(float64(engine.Height)*cli.WindowScale))
	ebiten.SetWindowTitle("Sentinel Situational Map")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetFullscreen(cli.Fullscreen)

	if err := ebiten.RunGame(&quitOnSignal{Engine: engine, ctx: ctx}); err != nil {
		log.WithError(err).Error("[main] viewer stopped")
	}
}
