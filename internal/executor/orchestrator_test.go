package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/cleanup"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/workspace"
)

const testGrace = 200 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(rt Runtime) *Orchestrator {
	return NewOrchestrator(rt, OrchestratorConfig{
		Limits:           Limits{MemoryBytes: 128 << 20, CPUQuota: 50000, CPUPeriod: 100000, PidsLimit: 64, User: "nobody"},
		Grace:            testGrace,
		ProvisionTimeout: time.Second,
		MaxOutputBytes:   1 << 20,
	}, discardLogger())
}

func testProfile(t *testing.T, id string) language.Profile {
	t.Helper()
	for _, p := range language.Builtin() {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("no builtin profile %q", id)
	return language.Profile{}
}

func testJob(t *testing.T, lang string, timeout time.Duration) Job {
	t.Helper()
	return Job{
		ExecutionID: "exec-1",
		Profile:     testProfile(t, lang),
		Workspace:   &workspace.Workspace{ID: "exec-1", Path: "/tmp/coderunner/exec-exec-1", SourceFile: "code.py"},
		Timeout:     timeout,
	}
}

func TestRun_Completed(t *testing.T) {
	rt := newFakeRuntime()
	rt.stdout = "hi\n"
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	out, err := o.Run(context.Background(), stack, testJob(t, "python", 5*time.Second))
	require.NoError(t, err)
	stack.Close()

	assert.Equal(t, "hi", out.Stdout)
	assert.Empty(t, out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
	assert.True(t, out.HasExitCode)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 1, rt.created)
	assert.Equal(t, 0, rt.live())
}

func TestRun_UnitSpec(t *testing.T) {
	rt := newFakeRuntime()
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())
	defer stack.Close()

	job := testJob(t, "java", 5*time.Second)
	job.Workspace.SourceFile = "Hello.java"
	job.Workspace.HasInput = true

	_, err := o.Run(context.Background(), stack, job)
	require.NoError(t, err)

	spec := rt.lastSpec
	assert.Equal(t, "coderunner-exec-1", spec.Name)
	assert.Equal(t, "eclipse-temurin:17-jdk-alpine", spec.Image)
	assert.Equal(t, job.Workspace.Path, spec.HostDir)
	assert.Equal(t, "/workspace", spec.WorkDir)
	assert.Equal(t, "true", spec.Labels[LabelManaged])
	assert.Equal(t, "exec-1", spec.Labels[LabelExecutionID])
	assert.Equal(t, int64(128<<20), spec.Limits.MemoryBytes)
	require.Len(t, spec.Cmd, 3)
	assert.Equal(t, []string{"/bin/sh", "-c"}, spec.Cmd[:2])
	assert.Contains(t, spec.Cmd[2], "javac -J-Xmx96m Hello.java && java -Xmx96m -cp . Hello < input.txt")
}

func TestRun_ProgramFailureIsNotAnError(t *testing.T) {
	rt := newFakeRuntime()
	rt.stderr = "  File \"code.py\", line 1\nSyntaxError: invalid syntax\n"
	rt.exitCode = 1
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	out, err := o.Run(context.Background(), stack, testJob(t, "python", 5*time.Second))
	require.NoError(t, err)
	stack.Close()

	assert.Equal(t, 1, out.ExitCode)
	assert.Contains(t, out.Stderr, "SyntaxError")
	assert.Empty(t, out.Stdout)
	assert.Equal(t, 0, rt.live())
}

func TestRun_ExitCodeFallsBackToStatus(t *testing.T) {
	rt := newFakeRuntime()
	rt.noMarker = true
	rt.exitCode = 139
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())
	defer stack.Close()

	out, err := o.Run(context.Background(), stack, testJob(t, "cpp", 5*time.Second))
	require.NoError(t, err)
	assert.False(t, out.HasExitCode)
	assert.Equal(t, 139, out.ExitCode)
}

func TestRun_Timeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.stdout = "partial"
	rt.hang = true
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	timeout := 100 * time.Millisecond
	start := time.Now()
	out, err := o.Run(context.Background(), stack, testJob(t, "javascript", timeout))
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, out.TimedOut)
	assert.Equal(t, TimeoutExitCode, out.ExitCode)
	assert.Equal(t, "partial", out.Stdout)
	assert.Less(t, elapsed, timeout+testGrace, "response must not wait past the grace period")
	assert.Equal(t, 1, rt.killed)
	assert.Equal(t, 0, rt.live(), "unit must be gone before Run returns")

	stack.Close()
	assert.Equal(t, 0, rt.live())
}

func TestRun_TimeoutKillIgnored_RemovalRetried(t *testing.T) {
	rt := newFakeRuntime()
	rt.hang = true
	rt.ignoreKill = true
	rt.removeErrs = 1
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	out, err := o.Run(context.Background(), stack, testJob(t, "python", 50*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, 2, rt.removes, "first removal fails, retry succeeds")
	assert.Equal(t, 0, rt.live())

	stack.Close()
	assert.Equal(t, 2, rt.removes, "release already ran; Close must not remove again")
}

func TestRun_CreateFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.createErr = errors.New("no such image")
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())
	defer stack.Close()

	_, err := o.Run(context.Background(), stack, testJob(t, "python", time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInfrastructure))
	assert.Equal(t, "no such image", apperror.Detail(err))
	assert.Equal(t, 0, stack.Len())
}

func TestRun_StartFails_UnitReclaimed(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.New("pids limit rejected")
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	_, err := o.Run(context.Background(), stack, testJob(t, "python", time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInfrastructure))
	assert.Equal(t, 1, rt.live())

	stack.Close()
	assert.Equal(t, 0, rt.live())
}

func TestRun_AttachFails_UnitReclaimed(t *testing.T) {
	rt := newFakeRuntime()
	rt.attachErr = errors.New("hijack failed")
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	_, err := o.Run(context.Background(), stack, testJob(t, "python", time.Second))
	assert.True(t, errors.Is(err, apperror.ErrInfrastructure))

	stack.Close()
	assert.Equal(t, 0, rt.live())
}

func TestRun_CallerCancelled(t *testing.T) {
	rt := newFakeRuntime()
	rt.hang = true
	o := newTestOrchestrator(rt)
	stack := cleanup.New(discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := o.Run(ctx, stack, testJob(t, "python", 5*time.Second))
	assert.ErrorIs(t, err, context.Canceled)

	stack.Close()
	assert.Equal(t, 0, rt.live())
}
