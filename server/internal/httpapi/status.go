package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/internal/protocol"
	"github.com/tdzsx789/xufei-agent/server/internal/images"
)

const storedURLKey = "stored_url"

type statusResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:    "running",
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339Nano),
		Message:   "Service running normally",
	})
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	HeapInuse  uint64 `json:"heapInuse"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

type healthResponse struct {
	Status      string              `json:"status"`
	Uptime      float64             `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
	Memory      memoryStats         `json:"memory"`
	Folder      images.FolderStatus `json:"folder"`
	Subscribers int                 `json:"subscribers"`
	Ledger      string              `json:"ledger"`
}

// Ledger states reported by /health.
const (
	ledgerOK       = "ok"
	ledgerDisabled = "disabled"
)

func (s *Server) handleHealth(c echo.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status, ledger := "healthy", ledgerDisabled
	if s.settings != nil {
		ledger = ledgerOK
		if err := s.settings.Ping(c.Request().Context()); err != nil {
			slog.Warn("health: upload ledger unreachable", "err", err)
			status, ledger = "degraded", err.Error()
		}
	}

	now := s.clock.Now()
	return c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Uptime:    now.Sub(s.startTime).Seconds(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Memory: memoryStats{
			Alloc:      ms.Alloc,
			HeapAlloc:  ms.HeapAlloc,
			HeapInuse:  ms.HeapInuse,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Folder:      s.images.FolderStatus(),
		Subscribers: s.hub.Count(),
		Ledger:      ledger,
	})
}

type configResponse struct {
	Success bool          `json:"success"`
	Config  config.Config `json:"config"`
}

func (s *Server) handleConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, configResponse{Success: true, Config: s.cfg})
}

type shouldShowInterfaceResponse struct {
	Success       bool   `json:"success"`
	ShowInterface bool   `json:"showInterface"`
	Address       string `json:"address"`
}

func (s *Server) handleShouldShowInterface(c echo.Context) error {
	return c.JSON(http.StatusOK, shouldShowInterfaceResponse{
		Success:       true,
		ShowInterface: s.cfg.Interface,
		Address:       s.cfg.Address,
	})
}

func (s *Server) handleFolderStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.images.FolderStatus())
}

type createFolderResponse struct {
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

func (s *Server) handleCreateFolder(c echo.Context) error {
	created, err := s.images.EnsureFolder()
	if err != nil {
		slog.Error("create image folder", "dir", s.images.Dir(), "err", err)
		return c.JSON(http.StatusOK, createFolderResponse{
			Success: false,
			Message: fmt.Sprintf("Error: %v", err),
		})
	}
	if created {
		s.hub.Publish(protocol.Message{Type: protocol.TypeFolderCreated, Folder: s.images.Dir()})
	}
	return c.JSON(http.StatusOK, createFolderResponse{
		Success: true,
		Created: created,
		Message: folderMessage(created),
	})
}

type storedURL struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp,omitempty"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleStoredURL(c echo.Context) error {
	if s.settings == nil {
		return c.JSON(http.StatusOK, storedURL{})
	}
	raw, ok, err := s.settings.GetSetting(c.Request().Context(), storedURLKey)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("load stored url", "err", err)
		}
		return c.JSON(http.StatusOK, storedURL{})
	}
	var out storedURL
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("decode stored url", "err", err)
		return c.JSON(http.StatusOK, storedURL{})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSaveURL(c echo.Context) error {
	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	if s.settings == nil {
		return c.JSON(http.StatusOK, resultResponse{Error: "settings storage is not configured"})
	}
	data, err := json.Marshal(storedURL{
		URL:       strings.TrimSpace(req.URL),
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	if err := s.settings.SetSetting(c.Request().Context(), storedURLKey, string(data)); err != nil {
		slog.Error("save url", "err", err)
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resultResponse{Success: true})
}

func (s *Server) handleOpenURL(c echo.Context) error {
	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	target, err := checkOpenable(req.URL)
	if err != nil {
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	if err := s.openURL(target); err != nil {
		slog.Error("open url", "url", target, "err", err)
		return c.JSON(http.StatusOK, resultResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resultResponse{Success: true})
}

// checkOpenable only lets web and file URLs through to the OS handler.
func checkOpenable(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "file":
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}
