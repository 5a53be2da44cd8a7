package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
)

// fakeRuntime is an in-memory Runtime. Programs are scripted through the
// exported-looking fields, and every unit is tracked so tests can check that
// nothing is left alive.
type fakeRuntime struct {
	mu sync.Mutex

	units   map[string]*fakeUnit
	nextID  int
	created int
	killed  int
	removes int

	// behaviour of the next units
	stdout     string
	stderr     string
	exitCode   int64
	noMarker   bool
	hang       bool // keep running until killed
	ignoreKill bool // Kill succeeds but the unit keeps running
	createErr  error
	attachErr  error
	startErr   error
	removeErrs int // fail this many Remove calls first
	listErr    error

	lastSpec UnitSpec
}

type fakeUnit struct {
	id       string
	info     UnitInfo
	pr       *io.PipeReader
	pw       *io.PipeWriter
	exit     chan ExitStatus
	exitOnce sync.Once
	removed  bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{units: make(map[string]*fakeUnit)}
}

func (f *fakeRuntime) Create(_ context.Context, spec UnitSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	f.created++
	f.lastSpec = spec
	pr, pw := io.Pipe()
	u := &fakeUnit{
		id:   fmt.Sprintf("unit-%02d-0123456789abcdef", f.nextID),
		pr:   pr,
		pw:   pw,
		exit: make(chan ExitStatus, 1),
		info: UnitInfo{ExecutionID: spec.Labels[LabelExecutionID], Created: time.Now()},
	}
	u.info.ID = u.id
	f.units[u.id] = u
	return u.id, nil
}

func (f *fakeRuntime) Attach(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return f.units[id].pr, nil
}

func (f *fakeRuntime) Wait(_ context.Context, id string) <-chan ExitStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.units[id].exit
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	u := f.units[id]
	stdout, stderr, code := f.stdout, f.stderr, f.exitCode
	marker, hang := !f.noMarker, f.hang
	f.mu.Unlock()

	go func() {
		out := stdcopy.NewStdWriter(u.pw, stdcopy.Stdout)
		errw := stdcopy.NewStdWriter(u.pw, stdcopy.Stderr)
		if stdout != "" {
			_, _ = out.Write([]byte(stdout))
		}
		if stderr != "" {
			_, _ = errw.Write([]byte(stderr))
		}
		if hang {
			return
		}
		if marker {
			_, _ = out.Write([]byte(fmt.Sprintf("\n%s%d\n", ExitMarker, code)))
		}
		f.finish(u, code)
	}()
	return nil
}

// finish models AutoRemove: the unit disappears once its process exits.
func (f *fakeRuntime) finish(u *fakeUnit, code int64) {
	_ = u.pw.Close()
	f.mu.Lock()
	u.removed = true
	f.mu.Unlock()
	u.exitOnce.Do(func() { u.exit <- ExitStatus{Code: code} })
}

func (f *fakeRuntime) Kill(_ context.Context, id string) error {
	f.mu.Lock()
	f.killed++
	u, ok := f.units[id]
	ignore := f.ignoreKill
	f.mu.Unlock()
	if !ok {
		return errors.New("no such unit")
	}
	if !ignore {
		f.finish(u, 137)
	}
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	if f.removeErrs > 0 {
		f.removeErrs--
		return errors.New("daemon busy")
	}
	if u, ok := f.units[id]; ok && !u.removed {
		u.removed = true
		_ = u.pw.CloseWithError(errors.New("unit removed"))
		u.exitOnce.Do(func() { u.exit <- ExitStatus{Code: 137} })
	}
	return nil
}

func (f *fakeRuntime) List(context.Context) ([]UnitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []UnitInfo
	for _, u := range f.units {
		if !u.removed {
			out = append(out, u.info)
		}
	}
	return out, nil
}

func (f *fakeRuntime) Ping(context.Context) error { return nil }

// addOrphan registers a live unit that no execution owns.
func (f *fakeRuntime) addOrphan(id string, created time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, pw := io.Pipe()
	f.units[id] = &fakeUnit{
		id:   id,
		pr:   pr,
		pw:   pw,
		exit: make(chan ExitStatus, 1),
		info: UnitInfo{ID: id, Created: created},
	}
}

// live counts units that were created but not yet removed.
func (f *fakeRuntime) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.units {
		if !u.removed {
			n++
		}
	}
	return n
}
