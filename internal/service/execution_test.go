package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/cleanup"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/workspace"
)

// =========================================================================
// FAKE RUNNER
// =========================================================================
//
// fakeRunner stands in for the orchestrator. It "creates" one unit per Run,
// registers the unit's release on the cleanup stack exactly like the real
// orchestrator, and counts how many units are still alive. A correct pipeline
// leaves live at zero no matter how the run ended.

type fakeRunner struct {
	mu      sync.Mutex
	created int
	live    int
	jobs    []executor.Job
	sources map[string]string // executionID → source file seen at run time

	fs      afero.Fs
	outcome executor.Outcome
	err     error
	panics  bool
	delay   time.Duration

	releaseBudget time.Duration // time left on the release context
}

func (f *fakeRunner) Run(ctx context.Context, stack *cleanup.Stack, job executor.Job) (*executor.Outcome, error) {
	f.mu.Lock()
	f.created++
	f.live++
	f.jobs = append(f.jobs, job)
	if f.sources == nil {
		f.sources = make(map[string]string)
	}
	if f.fs != nil {
		b, _ := afero.ReadFile(f.fs, filepath.Join(job.Workspace.Path, job.Workspace.SourceFile))
		f.sources[job.ExecutionID] = string(b)
	}
	f.mu.Unlock()

	stack.Push("container", func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.live--
		if deadline, ok := ctx.Deadline(); ok {
			f.releaseBudget = time.Until(deadline)
		}
		return nil
	})

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("runtime client crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	out := f.outcome
	return &out, nil
}

func (f *fakeRunner) counts() (created, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.live
}

type harness struct {
	svc    *ExecutionService
	runner *fakeRunner
	fs     afero.Fs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := language.New(language.Builtin(), nil, 30*time.Second)
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	ws, err := workspace.NewManager(fsys, "/ws", logger)
	require.NoError(t, err)

	runner := &fakeRunner{fs: fsys}
	return &harness{
		svc:    NewExecutionService(registry, ws, runner, 30*time.Second, logger),
		runner: runner,
		fs:     fsys,
	}
}

// workspaceCount returns how many workspace directories exist.
func (h *harness) workspaceCount(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(h.fs, "/ws")
	require.NoError(t, err)
	return len(entries)
}

func ms(v int64) *int64 { return &v }

// =========================================================================
// TESTS
// =========================================================================

func TestExecute_CleanupTimeout(t *testing.T) {
	h := newHarness(t)
	h.svc.WithCleanupTimeout(500 * time.Millisecond)
	h.runner.err = apperror.Infrastructure("start container", errors.New("daemon gone"))

	_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "print(1)", Language: "python"})
	require.ErrorIs(t, err, apperror.ErrInfrastructure)

	h.runner.mu.Lock()
	budget := h.runner.releaseBudget
	h.runner.mu.Unlock()
	assert.Greater(t, budget, time.Duration(0))
	assert.LessOrEqual(t, budget, 500*time.Millisecond)

	_, live := h.runner.counts()
	assert.Equal(t, 0, live)
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = executor.Outcome{Output: executor.Output{Stdout: "hi", ExitCode: 0, HasExitCode: true}}

	res, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{
		Code:     "print('hi')",
		Language: "Python",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.Empty(t, res.Error)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "python", res.Language)
	assert.NotEmpty(t, res.ExecutionID)
	assert.GreaterOrEqual(t, res.ExecutionTime, int64(0))

	assert.Equal(t, "print('hi')", h.runner.sources[res.ExecutionID])
	created, live := h.runner.counts()
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, h.workspaceCount(t))
}

func TestExecute_ProgramFailureIsSuccess(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = executor.Outcome{Output: executor.Output{Stderr: "SyntaxError: invalid syntax", ExitCode: 1}}

	res, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{
		Code:     "this is not valid code",
		Language: "python",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Error, "SyntaxError")
}

func TestExecute_ResourcesReclaimedOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *fakeRunner)
		wantErr error
	}{
		{"completed", func(r *fakeRunner) {}, nil},
		{"program failed", func(r *fakeRunner) { r.outcome.ExitCode = 2 }, nil},
		{"timed out", func(r *fakeRunner) { r.outcome = executor.Outcome{TimedOut: true, Output: executor.Output{ExitCode: -1}} }, apperror.ErrTimeout},
		{"provision failed", func(r *fakeRunner) {
			r.err = apperror.Infrastructure("start container", errors.New("daemon down"))
		}, apperror.ErrInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h.runner)

			_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}

			created, live := h.runner.counts()
			assert.LessOrEqual(t, created, 1)
			assert.Equal(t, 0, live, "execution unit leaked")
			assert.Equal(t, 0, h.workspaceCount(t), "workspace leaked")
		})
	}
}

func TestExecute_PanicStillReclaims(t *testing.T) {
	h := newHarness(t)
	h.runner.panics = true

	assert.Panics(t, func() {
		_, _ = h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})
	})

	_, live := h.runner.counts()
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, h.workspaceCount(t))
}

func TestExecute_CallerCancelled(t *testing.T) {
	h := newHarness(t)
	h.runner.delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := h.svc.Execute(ctx, executor.ExecutionRequest{Code: "x", Language: "python"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)

	_, live := h.runner.counts()
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, h.workspaceCount(t))
}

func TestExecute_Timeout(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = executor.Outcome{
		TimedOut: true,
		Output:   executor.Output{Stdout: "started", Stderr: "", ExitCode: executor.TimeoutExitCode},
	}

	res, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{
		Code:     "while(true){}",
		Language: "javascript",
		Timeout:  ms(1000),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrTimeout))

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "started", res.Output)
	assert.Equal(t, MsgTimedOut, res.Error)
}

func TestExecute_UnknownLanguageHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{
		Code:     "IDENTIFICATION DIVISION.",
		Language: "cobol",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrUnsupportedLanguage))
	assert.Equal(t, "Unsupported language: cobol", res.Error)
	assert.NotEmpty(t, res.ExecutionID)

	created, _ := h.runner.counts()
	assert.Equal(t, 0, created)
	assert.Equal(t, 0, h.workspaceCount(t))
}

func TestExecute_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  executor.ExecutionRequest
	}{
		{"no code", executor.ExecutionRequest{Language: "python"}},
		{"no language", executor.ExecutionRequest{Code: "print(1)"}},
		{"blank language", executor.ExecutionRequest{Code: "print(1)", Language: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			res, err := h.svc.Execute(context.Background(), tt.req)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			assert.Equal(t, MsgMissingFields, res.Error)

			created, _ := h.runner.counts()
			assert.Equal(t, 0, created)
			assert.Equal(t, 0, h.workspaceCount(t))
		})
	}
}

func TestExecute_TimeoutClamping(t *testing.T) {
	tests := []struct {
		name    string
		lang    string
		timeout *int64
		want    time.Duration
	}{
		{"language default", "python", nil, 10 * time.Second},
		{"compiled default", "java", nil, 20 * time.Second},
		{"explicit", "python", ms(1500), 1500 * time.Millisecond},
		{"zero clamps up", "python", ms(0), time.Millisecond},
		{"negative clamps up", "python", ms(-50), time.Millisecond},
		{"above max clamps down", "python", ms(120000), 30 * time.Second},
		{"huge value", "python", ms(1 << 62), 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: tt.lang, Timeout: tt.timeout})
			require.NoError(t, err)
			require.Len(t, h.runner.jobs, 1)
			assert.Equal(t, tt.want, h.runner.jobs[0].Timeout)
		})
	}
}

func TestExecute_InputWritten(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python", Input: "42\n"})
	require.NoError(t, err)
	assert.True(t, h.runner.jobs[0].Workspace.HasInput)

	_, err = h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})
	require.NoError(t, err)
	assert.False(t, h.runner.jobs[1].Workspace.HasInput)
}

func TestExecute_JavaSourceNamedAfterClass(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{
		Code:     "public class Greeter { public static void main(String[] a) {} }",
		Language: "java",
	})
	require.NoError(t, err)
	assert.Equal(t, "Greeter.java", h.runner.jobs[0].Workspace.SourceFile)
}

func TestExecute_WorkspaceFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := language.New(language.Builtin(), nil, 30*time.Second)
	require.NoError(t, err)

	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/ws", 0o755))
	roManager, err := workspace.NewManager(afero.NewReadOnlyFs(base), "/ws", logger)
	require.NoError(t, err)

	runner := &fakeRunner{}
	svc := NewExecutionService(registry, roManager, runner, 30*time.Second, logger)

	res, err := svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInfrastructure))
	assert.Equal(t, MsgInternal, res.Error)
	assert.False(t, res.Success)

	created, _ := runner.counts()
	assert.Equal(t, 0, created)
}

func TestExecute_IDCollisionIsInfrastructureError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.fs.MkdirAll("/ws/exec-fixed", 0o777))
	h.svc.newID = func() string { return "fixed" }

	_, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})
	assert.True(t, errors.Is(err, apperror.ErrInfrastructure))

	created, _ := h.runner.counts()
	assert.Equal(t, 0, created)
}

func TestExecute_ConcurrentRequestsAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.runner.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*executor.ExecutionResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "print(1)", Language: "python"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.Len(t, h.runner.jobs, 2)
	assert.NotEqual(t, results[0].ExecutionID, results[1].ExecutionID)
	assert.NotEqual(t, h.runner.jobs[0].Workspace.Path, h.runner.jobs[1].Workspace.Path)

	_, live := h.runner.counts()
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, h.workspaceCount(t))
}
