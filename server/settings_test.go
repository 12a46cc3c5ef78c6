package main

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, ":5260", s.Addr)
	assert.Empty(t, s.H3Addr)
	assert.Empty(t, s.PublicURL, "derived from the listen address after flags")
	assert.Equal(t, 5*time.Minute, s.StatsEvery)
	assert.NotEmpty(t, s.ImagesDir)
	assert.Equal(t, "uploads.db", filepath.Base(s.DBPath))
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XUFEI_ADDR", "127.0.0.1:6000")
	t.Setenv("XUFEI_IMAGES_DIR", "/data/images")
	t.Setenv("XUFEI_DB", "/data/ledger.db")
	t.Setenv("XUFEI_STATS_INTERVAL", "30s")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", s.Addr)
	assert.Equal(t, "/data/images", s.ImagesDir)
	assert.Equal(t, "/data/ledger.db", s.DBPath)
	assert.Equal(t, "http://localhost:6000", publicURL(s.PublicURL, s.Addr))
	assert.Equal(t, 30*time.Second, s.StatsEvery)
}

func TestPublicURLFollowsListenAddress(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XUFEI_PUBLIC_URL", "")
	s, err := LoadSettings()
	require.NoError(t, err)

	// The launcher moves the service with -addr; image links must follow.
	assert.Equal(t, "http://localhost:6000", publicURL(s.PublicURL, ":6000"))
	assert.Equal(t, "http://localhost:5260", publicURL(s.PublicURL, s.Addr))
	assert.Equal(t, "http://localhost:7000", publicURL("", "0.0.0.0:7000"))
}

func TestPublicURLExplicitWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XUFEI_PUBLIC_URL", "http://kiosk.lan:8080")
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "http://kiosk.lan:8080", publicURL(s.PublicURL, ":6000"))
	assert.Equal(t, "https://cdn.example", publicURL("https://cdn.example", ":6000"))
}

func TestPortSuffix(t *testing.T) {
	assert.Equal(t, ":5260", portSuffix(":5260"))
	assert.Equal(t, ":80", portSuffix("0.0.0.0:80"))
	assert.Equal(t, ":8080", portSuffix("8080"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
