package main

import (
	"embed"
	"log/slog"
	"os"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/launcher/internal/display"
)

//go:embed all:frontend/dist
var assets embed.FS

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// hasFlag reports whether args contain flag, e.g. "--dev".
func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

func main() {
	level := slog.LevelInfo
	if hasFlag(os.Args[1:], "--dev") || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) > 1 && os.Args[1] == kioskCommand {
		if err := runKiosk(os.Args[2:]); err != nil {
			slog.Error("[kiosk] run", "err", err)
			os.Exit(1)
		}
		return
	}

	store, err := config.DefaultStore()
	if err != nil {
		slog.Error("locate config", "err", err)
		os.Exit(1)
	}
	app := NewApp(store)
	cfg := app.Config()
	slog.Info("starting launcher", "version", Version, "config", store.Path(), "interface", cfg.Interface)

	err = wails.Run(&options.App{
		Title:     "Xufei Agent",
		Width:     display.ControlWidth,
		Height:    display.ControlHeight,
		MinWidth:  400,
		MinHeight: 300,
		// Without the interface the control process only supervises
		// children and keeps its window hidden.
		StartHidden: !cfg.Interface,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnDomReady:       app.domReady,
		OnShutdown:       app.shutdown,
		Linux: &linux.Options{
			ProgramName: "xufei-agent",
		},
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		slog.Error("run launcher", "err", err)
		os.Exit(1)
	}
}
