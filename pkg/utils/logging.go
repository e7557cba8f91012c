package utils

import (
	"errors"
	"io/fs"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/joho/godotenv"
)

// LogFlags select the log handler and level for a binary.
type LogFlags struct {
	LogLevel string `help:"Log level." default:"info" enum:"debug,info,warn,error,fatal" env:"SENTINEL_LOG_LEVEL"`
	LogJSON  bool   `name:"log-json" help:"Write logs as JSON lines." env:"SENTINEL_LOG_JSON"`
}

// Setup installs the handler on the default apex logger.
func (f LogFlags) Setup() error {
	lvl, err := log.ParseLevel(f.LogLevel)
	if err != nil {
		return err
	}
	if f.LogJSON {
		log.SetHandler(json.New(os.Stderr))
	} else {
		log.SetHandler(cli.New(os.Stderr))
	}
	log.SetLevel(lvl)
	return nil
}

// LoadDotEnv loads the given .env files (".env" when none are named) into the
// environment. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
