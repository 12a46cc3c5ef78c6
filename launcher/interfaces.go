package main

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/tdzsx789/xufei-agent/internal/protocol"
	"github.com/tdzsx789/xufei-agent/launcher/internal/procs"
)

// Desktop is the slice of the Wails runtime App uses. Defining it here lets
// App be tested without a window.
type Desktop interface {
	Screens(ctx context.Context) ([]runtime.Screen, error)
	SelectDirectory(ctx context.Context, title, defaultDir string) (string, error)
	Emit(ctx context.Context, event string, data any)
}

// Spawner starts and stops child processes.
type Spawner interface {
	Start(spec procs.Spec) (*procs.Process, error)
	Running(name string) bool
	Names() []string
	Stop(name string) error
	StopAll()
}

// Feed is the event stream from the image service.
type Feed interface {
	Connect(ctx context.Context, addr string) error
	Close()
	Connected() bool

	SetOnImageStored(fn func(img protocol.Image, total int))
	SetOnFolderCreated(fn func(folder string))
	SetOnDisconnected(fn func())
}
