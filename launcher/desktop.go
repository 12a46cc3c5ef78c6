package main

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// wailsDesktop forwards to the Wails runtime of the current window.
type wailsDesktop struct{}

func (wailsDesktop) Screens(ctx context.Context) ([]runtime.Screen, error) {
	return runtime.ScreenGetAll(ctx)
}

func (wailsDesktop) SelectDirectory(ctx context.Context, title, defaultDir string) (string, error) {
	return runtime.OpenDirectoryDialog(ctx, runtime.OpenDialogOptions{
		Title:                title,
		DefaultDirectory:     defaultDir,
		CanCreateDirectories: true,
	})
}

func (wailsDesktop) Emit(ctx context.Context, event string, data any) {
	runtime.EventsEmit(ctx, event, data)
}
