// Package display maps the launcher config onto the monitors reported by the
// desktop runtime and decides which windows to open where.
package display

import (
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/tdzsx789/xufei-agent/internal/config"
)

// Fallback geometry when the runtime reports no screens.
const (
	FallbackWidth  = 1920
	FallbackHeight = 1080
)

// Control window size.
const (
	ControlWidth  = 800
	ControlHeight = 600
)

// Display is one monitor with its position on the virtual desktop.
type Display struct {
	Index   int  `json:"index"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	Primary bool `json:"primary"`
}

// Role says what a window shows.
type Role string

const (
	RoleControl     Role = "control"
	RoleEntrance    Role = "entrance"
	RoleSubEntrance Role = "subEntrance"
)

// Window is one window the launcher should open.
type Window struct {
	Role    Role    `json:"role"`
	File    string  `json:"file,omitempty"`
	Display Display `json:"display"`
}

// Kiosk reports whether w is a fullscreen kiosk window.
func (w Window) Kiosk() bool {
	return w.Role != RoleControl
}

// FromScreens orders screens primary first and lays them out left to right.
// The runtime reports sizes only, so offsets accumulate widths.
func FromScreens(screens []runtime.Screen) []Display {
	ordered := make([]runtime.Screen, 0, len(screens))
	for _, s := range screens {
		if s.IsPrimary {
			ordered = append(ordered, s)
		}
	}
	for _, s := range screens {
		if !s.IsPrimary {
			ordered = append(ordered, s)
		}
	}

	out := make([]Display, 0, len(ordered))
	x := 0
	for i, s := range ordered {
		w, h := s.Size.Width, s.Size.Height
		if w <= 0 || h <= 0 {
			w, h = s.Width, s.Height
		}
		out = append(out, Display{Index: i, X: x, Y: 0, Width: w, Height: h, Primary: s.IsPrimary})
		x += w
	}
	return out
}

// Fallback is the display assumed when none are reported.
func Fallback() Display {
	return Display{Width: FallbackWidth, Height: FallbackHeight, Primary: true}
}

// Plan returns the windows to open at startup. With the interface enabled
// that is the control window alone, otherwise the kiosk windows.
func Plan(cfg config.Config, displays []Display) []Window {
	if cfg.Interface {
		return []Window{{Role: RoleControl, Display: first(displays)}}
	}
	return KioskPlan(cfg, displays)
}

// KioskPlan returns the kiosk windows: the entrance on the first display and,
// when a second display exists and a sub-entrance is configured, the
// sub-entrance on the second.
func KioskPlan(cfg config.Config, displays []Display) []Window {
	cfg = cfg.Normalized()
	windows := []Window{{Role: RoleEntrance, File: cfg.Entrance, Display: first(displays)}}
	if len(displays) >= 2 && cfg.HasSubEntrance() {
		windows = append(windows, Window{Role: RoleSubEntrance, File: cfg.SubEntrance, Display: displays[1]})
	}
	return windows
}

func first(displays []Display) Display {
	if len(displays) == 0 {
		return Fallback()
	}
	return displays[0]
}
