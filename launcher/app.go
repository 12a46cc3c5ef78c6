package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/internal/protocol"
	"github.com/tdzsx789/xufei-agent/launcher/internal/display"
	"github.com/tdzsx789/xufei-agent/launcher/internal/procs"
)

const (
	serviceName   = "service"
	serviceBinary = "xufei-server"

	// Events sent to the control window.
	eventServerLog         = "server:log"
	eventImageStored       = "image:stored"
	eventFolderCreated     = "folder:created"
	eventServiceConnection = "service:connection"

	// serviceReadyWait bounds how long startup waits for the fresh service
	// to accept the event feed.
	serviceReadyWait  = 15 * time.Second
	serviceReadyEvery = 500 * time.Millisecond

	// maxPendingEvents caps what is held back until the control page loads;
	// the oldest events are dropped first.
	maxPendingEvents = 256
)

// App bridges the Go backend with the control window.
// Wails-bound methods (Get*, Update*, LaunchKiosk, ...) are callable from JS
// and always answer with a Result; nothing panics into the UI.
type App struct {
	ctx context.Context

	store   *config.Store
	desktop Desktop
	spawner Spawner
	feed    Feed

	// Swappable for tests.
	exePath    func() (string, error)
	findBinary func(string) (string, error)
	openPath   func(string) error
	now        func() time.Time

	addr string

	mu  sync.Mutex
	cfg Config

	// Events are queued until the control page has registered its
	// listeners (OnDomReady).
	uiMu    sync.Mutex
	uiCtx   context.Context
	pending []uiEvent
}

type uiEvent struct {
	name string
	data any
}

// Result is the answer of every bound call.
type Result struct {
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Message string  `json:"message,omitempty"`
	Config  *Config `json:"config,omitempty"`
	Path    string  `json:"path,omitempty"`
}

// LogLine is the payload of server:log events.
type LogLine struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ImageEvent is the payload of image:stored events.
type ImageEvent struct {
	Image protocol.Image `json:"image"`
	Total int            `json:"total"`
}

// ServiceStatus describes the companion service as seen by the launcher.
type ServiceStatus struct {
	Running   bool     `json:"running"`
	Connected bool     `json:"connected"`
	Addr      string   `json:"addr"`
	Kiosks    []string `json:"kiosks"`
}

// NewApp creates an App backed by store and the real desktop.
func NewApp(store *config.Store) *App {
	a := &App{
		store:      store,
		desktop:    wailsDesktop{},
		feed:       NewServiceFeed(),
		exePath:    os.Executable,
		findBinary: procs.FindBinary,
		openPath:   browser.OpenFile,
		now:        time.Now,
		addr:       serviceAddr(),
		cfg:        store.Load(),
	}
	a.spawner = procs.New(a.onChildLine, a.onChildExit)
	return a
}

// Config returns the in-memory record.
func (a *App) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// startup is called when the Wails app starts.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.wireFeed()
	a.startService()

	cfg := a.Config()
	for _, w := range display.Plan(cfg, a.displays()) {
		if !w.Kiosk() {
			continue
		}
		if err := a.startKiosk(cfg, w); err != nil {
			slog.Error("[app] start kiosk", "role", w.Role, "err", err)
		}
	}

	if a.spawner.Running(serviceName) {
		go func() {
			if err := connectWhenReady(ctx, a.feed, a.addr, serviceReadyWait, serviceReadyEvery); err != nil {
				slog.Warn("[app] event feed", "err", err)
				a.emitLog(procs.KindWarning, err.Error())
				return
			}
			a.emit(eventServiceConnection, true)
		}()
	}
}

// domReady is called once the control page has loaded. Events emitted
// before this point are delivered now, in order.
func (a *App) domReady(ctx context.Context) {
	a.uiMu.Lock()
	defer a.uiMu.Unlock()
	a.uiCtx = ctx
	for _, ev := range a.pending {
		a.desktop.Emit(ctx, ev.name, ev.data)
	}
	a.pending = nil
}

// shutdown is called when the Wails app is closing.
func (a *App) shutdown(_ context.Context) {
	a.feed.Close()
	a.spawner.StopAll()
	slog.Info("[app] children stopped")
}

func (a *App) wireFeed() {
	a.feed.SetOnImageStored(func(img protocol.Image, total int) {
		a.emit(eventImageStored, ImageEvent{Image: img, Total: total})
	})
	a.feed.SetOnFolderCreated(func(folder string) {
		a.emit(eventFolderCreated, folder)
	})
	a.feed.SetOnDisconnected(func() {
		a.emit(eventServiceConnection, false)
	})
}

// startService spawns the image service. A missing binary is reported, not
// fatal.
func (a *App) startService() {
	a.emitLog(procs.KindInfo, "Starting image service...")

	bin, err := a.findBinary(serviceBinary)
	if err != nil {
		slog.Error("[app] image service binary", "err", err)
		a.emitLog(procs.KindError, fmt.Sprintf("Image service not found: %v", err))
		return
	}
	a.emitLog(procs.KindInfo, "Service path: "+bin)

	p, err := a.spawner.Start(procs.Spec{
		Name: serviceName,
		Path: bin,
		Args: []string{"-addr", listenAddr(a.addr)},
		Env:  []string{config.PathEnv + "=" + a.store.Path()},
	})
	if err != nil {
		slog.Error("[app] start image service", "err", err)
		a.emitLog(procs.KindError, fmt.Sprintf("Error starting service: %v", err))
		return
	}
	a.emitLog(procs.KindSuccess, fmt.Sprintf("Image service started (PID: %d)", p.Pid))
}

func (a *App) onChildLine(name, stream, line string) {
	if name != serviceName {
		slog.Debug("[child]", "name", name, "stream", stream, "line", line)
		return
	}
	slog.Debug("[service]", "stream", stream, "line", line)
	a.emitLog(procs.Classify(stream, line), line)
}

func (a *App) onChildExit(name string, err error) {
	if name != serviceName {
		return
	}
	msg := "Image service exited"
	if err != nil {
		msg += ": " + err.Error()
	}
	a.emitLog(procs.KindWarning, msg)
}

func (a *App) emit(event string, data any) {
	a.uiMu.Lock()
	defer a.uiMu.Unlock()
	if a.uiCtx == nil {
		if len(a.pending) == maxPendingEvents {
			a.pending = a.pending[1:]
		}
		a.pending = append(a.pending, uiEvent{name: event, data: data})
		return
	}
	a.desktop.Emit(a.uiCtx, event, data)
}

func (a *App) emitLog(kind, msg string) {
	a.emit(eventServerLog, LogLine{
		Type:    kind,
		Message: fmt.Sprintf("[%s] %s", a.now().Format(time.TimeOnly), msg),
	})
}

func (a *App) displays() []display.Display {
	if a.ctx == nil {
		return nil
	}
	screens, err := a.desktop.Screens(a.ctx)
	if err != nil {
		slog.Warn("[app] enumerate screens", "err", err)
		return nil
	}
	return display.FromScreens(screens)
}

func (a *App) startKiosk(cfg Config, w display.Window) error {
	exe, err := a.exePath()
	if err != nil {
		return fmt.Errorf("locate launcher executable: %w", err)
	}
	spec := kioskSpec(exe, cfg, w)
	if _, err := a.spawner.Start(spec); err != nil {
		return err
	}
	slog.Info("[app] kiosk window", "role", w.Role, "file", w.File, "display", w.Display.Index, "x", w.Display.X, "y", w.Display.Y)
	return nil
}

// update applies fn to the in-memory record and persists it.
func (a *App) update(fn func(Config) Config) Result {
	a.mu.Lock()
	next := fn(a.cfg)
	if err := a.store.Save(next); err != nil {
		a.mu.Unlock()
		slog.Error("[app] save config", "err", err)
		return Result{Error: err.Error()}
	}
	a.cfg = next
	a.mu.Unlock()
	return Result{Success: true, Config: &next}
}

// GetConfig returns the in-memory record.
func (a *App) GetConfig() Result {
	cfg := a.Config()
	return Result{Success: true, Config: &cfg}
}

// UpdateConfig merges patch over the record and saves it.
func (a *App) UpdateConfig(patch Patch) Result {
	return a.update(func(c Config) Config { return c.Apply(patch).Normalized() })
}

// UpdateEntrance sets the primary display file.
func (a *App) UpdateEntrance(file string) Result {
	return a.update(func(c Config) Config {
		c.Entrance = strings.TrimSpace(file)
		return c.Normalized()
	})
}

// UpdateSubEntrance sets the secondary display file. An empty name turns
// the second display off.
func (a *App) UpdateSubEntrance(file string) Result {
	return a.update(func(c Config) Config {
		c.SubEntrance = strings.TrimSpace(file)
		return c
	})
}

// LaunchKiosk replaces any open kiosk windows with fresh ones for the
// current record. The control window stays open.
func (a *App) LaunchKiosk() Result {
	for _, name := range a.spawner.Names() {
		if isKioskName(name) {
			if err := a.spawner.Stop(name); err != nil {
				slog.Warn("[app] stop kiosk", "name", name, "err", err)
			}
		}
	}

	cfg := a.Config()
	for _, w := range display.KioskPlan(cfg, a.displays()) {
		if err := a.startKiosk(cfg, w); err != nil {
			slog.Error("[app] launch kiosk", "role", w.Role, "err", err)
			return Result{Error: err.Error()}
		}
	}
	return Result{Success: true, Message: "Kiosk mode launched successfully"}
}

// SelectFolder asks for the folder holding the entrance files. It does not
// change the record; the control window follows up with UpdateConfig.
func (a *App) SelectFolder() Result {
	if a.ctx == nil {
		return Result{Error: "window not ready"}
	}
	dir, err := a.desktop.SelectDirectory(a.ctx, "Select app folder", a.Config().Address)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if dir == "" {
		return Result{Error: "no folder selected"}
	}
	return Result{Success: true, Path: dir}
}

// OpenFolder shows path, or the configured address when path is empty, in
// the system file browser.
func (a *App) OpenFolder(path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		path = a.Config().Address
	}
	if info, err := os.Stat(path); err != nil {
		return Result{Error: err.Error()}
	} else if !info.IsDir() {
		return Result{Error: path + " is not a folder"}
	}
	if err := a.openPath(path); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Path: path}
}

// ServiceStatus reports the companion service and kiosk children.
func (a *App) ServiceStatus() ServiceStatus {
	kiosks := []string{}
	for _, name := range a.spawner.Names() {
		if isKioskName(name) {
			kiosks = append(kiosks, name)
		}
	}
	return ServiceStatus{
		Running:   a.spawner.Running(serviceName),
		Connected: a.feed.Connected(),
		Addr:      a.addr,
		Kiosks:    kiosks,
	}
}

// Displays lists the monitors in launch order.
func (a *App) Displays() []display.Display {
	ds := a.displays()
	if len(ds) == 0 {
		return []display.Display{display.Fallback()}
	}
	return ds
}
