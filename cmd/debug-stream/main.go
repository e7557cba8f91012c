// debug-stream connects to the realtime event socket and prints a live tally
// of what the feed is sending.
package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/realtime"
	"github.com/sentinelcore/sentinel-stream/pkg/utils"
)

type CLI struct {
	config.Flags   `embed:""`
	utils.LogFlags `embed:""`

	Timeout time.Duration `help:"Stop after this long. Zero runs until interrupted." default:"0s"`
	JSON    bool          `name:"json" help:"Echo every frame as indented JSON."`
}

func main() {
	if err := utils.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("loading .env")
	}
	var cli CLI
	kong.Parse(&cli,
		kong.Name("debug-stream"),
		kong.Description("Live statistics for the Sentinel realtime feed."),
	)
	if err := cli.LogFlags.Setup(); err != nil {
		log.WithError(err).Fatal("configuring logging")
	}
	cfg, err := cli.Flags.Load()
	if err != nil {
		log.WithError(err).Fatal("loading map profile")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	url := cfg.Realtime.URL
	log.Infof("[debug] connecting to %s", url)
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.WithError(err).Fatal("dial")
	}
	defer c.Close()

	if region := cfg.Realtime.Region; region != "" {
		sub, _ := json.Marshal(map[string]string{"type": realtime.TypeSubscribeRegion, "region": region})
		if err := c.WriteMessage(websocket.TextMessage, sub); err != nil {
			log.WithError(err).Fatal("subscribe")
		}
		log.Infof("[debug] subscribed to region %s", region)
	}

	stats := NewStats(time.Now())
	var echo io.Writer
	if cli.JSON {
		echo = os.Stdout
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.WithError(err).Error("[debug] read")
				}
				return
			}
			stats.Record(message, echo)
		}
	}()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if cli.Timeout > 0 {
		deadline = time.After(cli.Timeout)
	}

	for {
		select {
		case <-done:
			stats.Report(os.Stdout)
			return
		case <-ticker.C:
			if !cli.JSON {
				stats.Report(os.Stdout)
			}
		case <-deadline:
			log.Info("[debug] timeout reached")
			closeAndWait(c, done)
			stats.Report(os.Stdout)
			return
		case <-interrupt:
			log.Info("[debug] interrupted")
			closeAndWait(c, done)
			stats.Report(os.Stdout)
			return
		}
	}
}

func closeAndWait(c *websocket.Conn, done <-chan struct{}) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.WriteMessage(websocket.CloseMessage, msg); err != nil {
		log.WithError(err).Warn("[debug] close")
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
