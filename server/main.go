package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/browser"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/server/internal/httpapi"
	"github.com/tdzsx789/xufei-agent/server/internal/images"
	"github.com/tdzsx789/xufei-agent/server/internal/store"
	"github.com/tdzsx789/xufei-agent/server/internal/ws"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	settings, err := LoadSettings()
	if err != nil {
		slog.Error("load settings", "err", err)
		os.Exit(1)
	}

	addr := flag.String("addr", settings.Addr, "HTTP listen address")
	h3Addr := flag.String("h3-addr", settings.H3Addr, "Optional HTTP/3 (QUIC) listen address")
	imagesDir := flag.String("images-dir", settings.ImagesDir, "Folder uploaded images are stored in")
	dbPath := flag.String("db", settings.DBPath, "SQLite upload ledger path")
	baseURL := flag.String("public-url", settings.PublicURL, "Base URL used in image links (default http://localhost:<addr port>)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := parseLevel(settings.LogLevel)
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if RunCLI(flag.Args(), *dbPath) {
		return
	}

	imageBaseURL := publicURL(*baseURL, *addr)
	slog.Info("starting image service", "version", Version, "addr", *addr, "images", *imagesDir, "db", *dbPath, "public_url", imageBaseURL)

	ledger, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("open upload ledger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			slog.Error("close upload ledger", "err", closeErr)
		}
	}()

	imageStore, err := images.NewStore(*imagesDir, ledger, nil)
	if err != nil {
		slog.Error("initialize image store", "err", err)
		os.Exit(1)
	}
	if _, err := imageStore.EnsureFolder(); err != nil {
		slog.Warn("image folder unavailable", "dir", *imagesDir, "err", err)
	}

	cfg := config.Load()
	slog.Debug("launcher config", "interface", cfg.Interface, "address", cfg.Address, "entrance", cfg.Entrance)

	hub := ws.NewHub()
	server := httpapi.New(httpapi.Options{
		Images:    imageStore,
		Settings:  ledger,
		Hub:       hub,
		Config:    cfg,
		PublicURL: imageBaseURL,
		OpenURL:   browser.OpenURL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	go RunStats(ctx, ledger, hub, settings.StatsEvery)

	if *h3Addr != "" {
		tlsConfig, fingerprint, err := generateTLSConfig(certValidity, "")
		if err != nil {
			slog.Error("generate tls config", "err", err)
			os.Exit(1)
		}
		slog.Info("http3 listening", "addr", *h3Addr, "cert_sha256", fingerprint)
		go func() {
			if err := server.RunHTTP3(ctx, *h3Addr, tlsConfig); err != nil {
				slog.Error("http3 server error", "err", err)
			}
		}()
	}

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
