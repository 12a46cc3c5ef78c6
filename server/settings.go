package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Settings are the service runtime options. Environment variables (and an
// optional .env file) provide defaults; command-line flags override them.
type Settings struct {
	Addr       string        `env:"XUFEI_ADDR" default:":5260"`
	H3Addr     string        `env:"XUFEI_H3_ADDR"`
	ImagesDir  string        `env:"XUFEI_IMAGES_DIR"`
	DBPath     string        `env:"XUFEI_DB"`
	PublicURL  string        `env:"XUFEI_PUBLIC_URL"`
	LogLevel   string        `env:"XUFEI_LOG_LEVEL" default:"info"`
	StatsEvery time.Duration `env:"XUFEI_STATS_INTERVAL" default:"5m"`
}

// LoadSettings reads .env (if present) and the environment.
func LoadSettings() (Settings, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	var s Settings
	if err := env.Load(&s, nil); err != nil {
		return Settings{}, fmt.Errorf("load environment: %w", err)
	}
	return s.withDefaults(), nil
}

func (s Settings) withDefaults() Settings {
	if s.ImagesDir == "" {
		s.ImagesDir = defaultImagesDir()
	}
	if s.DBPath == "" {
		s.DBPath = defaultDBPath()
	}
	return s
}

// publicURL returns explicit when set, otherwise the loopback URL of the
// port the service actually listens on.
func publicURL(explicit, listenAddr string) string {
	if explicit != "" {
		return explicit
	}
	return "http://localhost" + portSuffix(listenAddr)
}

// defaultImagesDir is D:\stored_images on Windows and ~/stored_images
// elsewhere.
func defaultImagesDir() string {
	if runtime.GOOS == "windows" {
		return `D:\stored_images`
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "stored_images"
	}
	return filepath.Join(home, "stored_images")
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "xufei-uploads.db"
	}
	return filepath.Join(dir, "xufei-agent", "uploads.db")
}

// portSuffix returns ":port" from a listen address such as ":5260" or
// "0.0.0.0:5260".
func portSuffix(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return ":" + addr
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
