package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/tdzsx789/xufei-agent/launcher/internal/display"
	"github.com/tdzsx789/xufei-agent/launcher/internal/procs"
)

// kioskCommand is the first argument that turns the launcher binary into a
// single kiosk window.
const kioskCommand = "kiosk"

const hideCursorJS = `(function () {
  var style = document.createElement('style');
  style.textContent = '* { cursor: none !important; } html, body, #root { cursor: none !important; }';
  document.head.appendChild(style);
})();`

// kioskOptions are the flags of the kiosk subcommand.
type kioskOptions struct {
	Dir   string
	File  string
	Title string
	X, Y  int
	W, H  int
}

func parseKioskArgs(args []string) (kioskOptions, error) {
	var o kioskOptions
	fs := flag.NewFlagSet(kioskCommand, flag.ContinueOnError)
	fs.StringVar(&o.Dir, "dir", "", "Folder served to the window")
	fs.StringVar(&o.File, "file", "", "Entrance file under -dir")
	fs.StringVar(&o.Title, "title", "Kiosk", "Window title")
	fs.IntVar(&o.X, "x", 0, "Display offset X")
	fs.IntVar(&o.Y, "y", 0, "Display offset Y")
	fs.IntVar(&o.W, "w", display.FallbackWidth, "Display width")
	fs.IntVar(&o.H, "h", display.FallbackHeight, "Display height")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if strings.TrimSpace(o.Dir) == "" {
		return o, fmt.Errorf("kiosk: -dir is required")
	}
	if strings.TrimSpace(o.File) == "" {
		return o, fmt.Errorf("kiosk: -file is required")
	}
	if o.W <= 0 || o.H <= 0 {
		return o, fmt.Errorf("kiosk: invalid size %dx%d", o.W, o.H)
	}
	return o, nil
}

// kioskSpec builds the child process that shows w.
func kioskSpec(exe string, cfg Config, w display.Window) procs.Spec {
	return procs.Spec{
		Name: kioskName(w),
		Path: exe,
		Args: []string{
			kioskCommand,
			"-dir", cfg.Address,
			"-file", w.File,
			"-title", kioskTitle(w),
			"-x", strconv.Itoa(w.Display.X),
			"-y", strconv.Itoa(w.Display.Y),
			"-w", strconv.Itoa(w.Display.Width),
			"-h", strconv.Itoa(w.Display.Height),
		},
	}
}

func kioskName(w display.Window) string {
	return "kiosk-" + strconv.Itoa(w.Display.Index)
}

func isKioskName(name string) bool {
	return strings.HasPrefix(name, "kiosk-")
}

func kioskTitle(w display.Window) string {
	if w.Role == display.RoleSubEntrance {
		return "Secondary Display - SubEntrance"
	}
	return "Primary Display - Entrance"
}

// kioskHandler serves dir with the entrance file as the index page. A
// missing entrance file yields a blank page.
func kioskHandler(dir, file string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	entry := "/" + strings.TrimLeft(filepath.ToSlash(file), "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			if path.Dir(entry) != "/" {
				// Nested entrances keep their relative links working.
				http.Redirect(w, r, entry, http.StatusFound)
				return
			}
			http.ServeFile(w, r, filepath.Join(dir, filepath.FromSlash(entry)))
			return
		}
		files.ServeHTTP(w, r)
	})
}

// runKiosk opens one undecorated, fullscreen, always-on-top window on the
// requested display and blocks until it closes.
func runKiosk(args []string) error {
	o, err := parseKioskArgs(args)
	if err != nil {
		return err
	}
	slog.Info("[kiosk] opening", "file", o.File, "dir", o.Dir, "x", o.X, "y", o.Y, "w", o.W, "h", o.H)

	return wails.Run(&options.App{
		Title:            o.Title,
		Width:            o.W,
		Height:           o.H,
		Frameless:        true,
		AlwaysOnTop:      true,
		WindowStartState: options.Fullscreen,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 255},
		AssetServer: &assetserver.Options{
			Handler: kioskHandler(o.Dir, o.File),
		},
		OnStartup: func(ctx context.Context) {
			runtime.WindowSetPosition(ctx, o.X, o.Y)
			runtime.WindowFullscreen(ctx)
		},
		OnDomReady: func(ctx context.Context) {
			runtime.WindowExecJS(ctx, hideCursorJS)
		},
	})
}
