package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
)

func TestLogFlagsSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	if err := (LogFlags{LogLevel: "debug", LogJSON: true}).Setup(); err != nil {
		t.Fatalf("Setup(debug, json) = %v", err)
	}
	if err := (LogFlags{LogLevel: "warn"}).Setup(); err != nil {
		t.Fatalf("Setup(warn) = %v", err)
	}
	if err := (LogFlags{LogLevel: "chatty"}).Setup(); err == nil {
		t.Error("Setup(chatty) succeeded, want error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SENTINEL_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENTINEL_TEST_DOTENV", "")
	os.Unsetenv("SENTINEL_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv = %v", err)
	}
	if got := os.Getenv("SENTINEL_TEST_DOTENV"); got != "loaded" {
		t.Errorf("SENTINEL_TEST_DOTENV = %q, want loaded", got)
	}
}
