// Package procs spawns and tracks the launcher's child processes: the image
// service and one process per kiosk window.
package procs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Stream names passed to a LineFunc.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Log line kinds forwarded to the control window.
const (
	KindInfo    = "info"
	KindSuccess = "success"
	KindWarning = "warning"
	KindError   = "error"
)

var ErrAlreadyRunning = errors.New("process already running")

// LineFunc receives each output line of a child.
type LineFunc func(name, stream, line string)

// ExitFunc is called once a child has exited.
type ExitFunc func(name string, err error)

// Spec describes a child to start.
type Spec struct {
	Name string
	Path string
	Args []string
	// Env is appended to the launcher's own environment.
	Env []string
	Dir string
}

// Process is a running child.
type Process struct {
	Name string
	Pid  int

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Done is closed when the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Supervisor starts children and kills them on Stop. It never restarts them.
type Supervisor struct {
	mu     sync.Mutex
	procs  map[string]*Process
	onLine LineFunc
	onExit ExitFunc
}

// New returns a Supervisor. Both callbacks may be nil.
func New(onLine LineFunc, onExit ExitFunc) *Supervisor {
	return &Supervisor{
		procs:  make(map[string]*Process),
		onLine: onLine,
		onExit: onExit,
	}
}

// Start launches spec. Names are unique among running children.
func (s *Supervisor) Start(spec Spec) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[spec.Name]; ok {
		return nil, fmt.Errorf("%s: %w", spec.Name, ErrAlreadyRunning)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p := &Process{Name: spec.Name, Pid: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}
	s.procs[spec.Name] = p
	slog.Info("[procs] started", "name", spec.Name, "pid", p.Pid, "path", spec.Path)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, spec.Name, Stdout, stdout)
	go s.pump(&wg, spec.Name, Stderr, stderr)
	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		p.err = cmd.Wait()
		s.mu.Lock()
		if s.procs[spec.Name] == p {
			delete(s.procs, spec.Name)
		}
		s.mu.Unlock()
		slog.Info("[procs] exited", "name", spec.Name, "pid", p.Pid, "err", p.err)
		close(p.done)
		if s.onExit != nil {
			s.onExit(spec.Name, p.err)
		}
	}()
	return p, nil
}

func (s *Supervisor) pump(wg *sync.WaitGroup, name, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if s.onLine != nil {
			s.onLine(name, stream, line)
		}
	}
}

// Running reports whether a child with name is alive.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[name]
	return ok
}

// Names lists the running children, sorted.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.procs))
	for name := range s.procs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop kills the named child and waits for it to exit.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", name, err)
	}
	slog.Debug("[procs] stopped", "name", name, "pid", p.Pid, "exit", p.Err())
	return nil
}

// StopAll kills every child.
func (s *Supervisor) StopAll() {
	for _, name := range s.Names() {
		if err := s.Stop(name); err != nil {
			slog.Warn("[procs] stop", "name", name, "err", err)
		}
	}
}

// ExeName appends .exe on Windows.
func ExeName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}

// FindBinary looks for name next to the running executable, then on PATH.
func FindBinary(name string) (string, error) {
	name = ExeName(name)
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", name, err)
	}
	return path, nil
}

// Classify picks the kind of a child output line. The service logs with
// slog's text handler, so the level field decides; lines announcing the
// listener count as success.
func Classify(stream, line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "level=error"):
		return KindError
	case strings.Contains(lower, "level=warn"):
		return KindWarning
	case strings.Contains(lower, "listening"):
		return KindSuccess
	case strings.Contains(lower, "level="):
		return KindInfo
	case stream == Stderr:
		return KindError
	default:
		return KindInfo
	}
}
