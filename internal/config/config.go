// Package config manages the launcher configuration shared by the desktop
// shell and the companion service. The record is stored as JSON at
// os.UserConfigDir()/xufei-agent/config.json unless XUFEI_CONFIG names
// another file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PathEnv overrides the config file location. The launcher exports it to the
// companion service so both processes read the same file.
const PathEnv = "XUFEI_CONFIG"

const (
	DefaultEntrance    = "main.html"
	DefaultSubEntrance = "secondary.html"
)

// Config is the launcher record.
type Config struct {
	Interface   bool   `json:"interface"`
	Address     string `json:"address"`
	Entrance    string `json:"entrance"`
	SubEntrance string `json:"subEntrance"`
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	Interface   *bool   `json:"interface,omitempty"`
	Address     *string `json:"address,omitempty"`
	Entrance    *string `json:"entrance,omitempty"`
	SubEntrance *string `json:"subEntrance,omitempty"`
}

// Default returns the record written on first run.
func Default() Config {
	return Config{
		Interface:   true,
		Address:     DefaultAddress(),
		Entrance:    DefaultEntrance,
		SubEntrance: DefaultSubEntrance,
	}
}

// DefaultAddress is the "app" folder next to the running executable.
func DefaultAddress() string {
	exe, err := os.Executable()
	if err != nil {
		return "app"
	}
	return filepath.Join(filepath.Dir(exe), "app")
}

// Apply merges p over c and returns the result.
func (c Config) Apply(p Patch) Config {
	if p.Interface != nil {
		c.Interface = *p.Interface
	}
	if p.Address != nil {
		c.Address = *p.Address
	}
	if p.Entrance != nil {
		c.Entrance = *p.Entrance
	}
	if p.SubEntrance != nil {
		c.SubEntrance = *p.SubEntrance
	}
	return c
}

// Normalized fills a blank entrance with DefaultEntrance.
func (c Config) Normalized() Config {
	if strings.TrimSpace(c.Entrance) == "" {
		c.Entrance = DefaultEntrance
	}
	return c
}

// HasSubEntrance reports whether a secondary display file is configured.
func (c Config) HasSubEntrance() bool {
	return strings.TrimSpace(c.SubEntrance) != ""
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return filepath.Abs(p)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "xufei-agent", "config.json"), nil
}

// Store reads and writes one config file. There is no locking; the last
// writer wins.
type Store struct {
	path string
}

// NewStore returns a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStore returns a store for Path().
func DefaultStore() (*Store, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return NewStore(path), nil
}

// Path returns the file this store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load reads the config file. A missing file yields the defaults, which are
// written to disk. An unreadable or corrupt file yields the defaults and is
// left untouched.
func (s *Store) Load() Config {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := s.Save(cfg); err != nil {
			slog.Warn("write default config", "path", s.path, "err", err)
		} else {
			slog.Info("default config created", "path", s.path)
		}
		return cfg
	}
	if err != nil {
		slog.Error("read config", "path", s.path, "err", err)
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Error("parse config, using defaults", "path", s.path, "err", err)
		return Default()
	}
	slog.Debug("config loaded", "path", s.path, "interface", cfg.Interface, "entrance", cfg.Entrance)
	return cfg
}

// Save overwrites the config file, creating the directory if needed.
func (s *Store) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg exactly as Save writes it.
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads the config at Path(), returning defaults on any error.
func Load() Config {
	st, err := DefaultStore()
	if err != nil {
		slog.Error("config store", "err", err)
		return Default()
	}
	return st.Load()
}
