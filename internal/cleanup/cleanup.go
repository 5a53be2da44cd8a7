// Package cleanup guarantees that every resource an execution acquires is
// released exactly once, in reverse order of acquisition, whatever way the
// execution ends.
//
// Usage:
//
//	stack := cleanup.New(logger)
//	defer stack.Close()
//
//	ws, err := workspaces.Create(id)
//	...
//	stack.Push("workspace", func(ctx context.Context) error { return workspaces.Destroy(ws) })
//
// Close runs on normal return, early return and panic alike (it is deferred).
// A Release handle lets the owner free a resource early; the deferred Close
// then skips it.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds each release action run by Close.
const DefaultTimeout = 10 * time.Second

// Func releases one resource. The context is detached from the request so that
// cleanup still runs after a client disconnect or deadline.
type Func func(ctx context.Context) error

type entry struct {
	name string
	fn   Func
	once sync.Once
	done bool
	err  error
}

// Release runs a single registered action. Calling it again is a no-op that
// returns the first result.
type Release func(ctx context.Context) error

// Stack is a LIFO list of release actions. It is safe for concurrent use.
type Stack struct {
	mu      sync.Mutex
	entries []*entry
	closed  bool
	logger  *slog.Logger
	timeout time.Duration
}

// New returns an empty stack.
func New(logger *slog.Logger) *Stack {
	return &Stack{logger: logger, timeout: DefaultTimeout}
}

// WithTimeout sets the per-action bound used by Close.
func (s *Stack) WithTimeout(d time.Duration) *Stack {
	s.timeout = d
	return s
}

// Push registers fn. If the stack is already closed the action runs at once,
// so a resource acquired during shutdown is not leaked.
func (s *Stack) Push(name string, fn Func) Release {
	e := &entry{name: name, fn: fn}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.entries = append(s.entries, e)
	}
	s.mu.Unlock()

	if closed {
		s.run(e)
	}
	return func(ctx context.Context) error {
		return s.invoke(ctx, e)
	}
}

// Len reports how many actions are still pending.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.done {
			n++
		}
	}
	return n
}

// Close runs every pending action, newest first. Errors and panics are logged,
// never returned; the caller's response does not depend on cleanup.
// Subsequent calls do nothing.
func (s *Stack) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		s.run(entries[i])
	}
}

func (s *Stack) run(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.invoke(ctx, e); err != nil {
		s.logger.Warn("cleanup action failed", slog.String("resource", e.name), slog.String("error", err.Error()))
	}
}

func (s *Stack) invoke(ctx context.Context, e *entry) error {
	e.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				e.err = fmt.Errorf("panic releasing %s: %v", e.name, r)
			}
			s.mu.Lock()
			e.done = true
			s.mu.Unlock()
		}()
		e.err = e.fn(ctx)
	})
	return e.err
}
