package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/cleanup"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/workspace"
)

// TimeoutExitCode is reported when the deadline killed the unit.
const TimeoutExitCode = -1

// Job is everything the orchestrator needs for one execution.
type Job struct {
	ExecutionID string
	Profile     language.Profile
	Workspace   *workspace.Workspace
	Timeout     time.Duration
}

// Outcome is what happened inside the unit.
type Outcome struct {
	Output
	TimedOut bool
	Duration time.Duration
}

// OrchestratorConfig holds the process-wide sandbox settings.
type OrchestratorConfig struct {
	Limits           Limits
	Grace            time.Duration // bound on kill-wait, removal and stream drain
	ProvisionTimeout time.Duration // bound on create, attach and start
	MaxOutputBytes   int           // per stream
}

// Orchestrator runs one job in one fresh unit and supervises it to completion
// or deadline.
type Orchestrator struct {
	rt     Runtime
	cfg    OrchestratorConfig
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator backed by rt.
func NewOrchestrator(rt Runtime, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 10 * time.Second
	}
	return &Orchestrator{rt: rt, cfg: cfg, logger: logger}
}

// Run provisions a unit for job, races it against job.Timeout and returns the
// collected output. The unit's removal is pushed onto stack as soon as the
// unit exists, so it is reclaimed on every path out of here.
//
// A program that fails or exits non-zero is a normal Outcome. A timeout is an
// Outcome with TimedOut set. Only failures of the sandbox itself return an error.
func (o *Orchestrator) Run(ctx context.Context, stack *cleanup.Stack, job Job) (*Outcome, error) {
	logger := o.logger.With(slog.String("executionId", job.ExecutionID), slog.String("language", job.Profile.ID))

	spec := UnitSpec{
		Name:    "coderunner-" + job.ExecutionID,
		Image:   job.Profile.Image,
		Cmd:     []string{"/bin/sh", "-c", BuildCommand(job.Profile, job.Workspace.SourceFile, job.Workspace.HasInput)},
		Env:     []string{"HOME=/tmp"},
		HostDir: job.Workspace.Path,
		WorkDir: "/workspace",
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelExecutionID: job.ExecutionID,
		},
		Limits: o.cfg.Limits,
	}

	// Everything after create, including waiting for removal, must finish
	// within this bound.
	lifeCtx, cancelLife := context.WithTimeout(ctx, o.cfg.ProvisionTimeout+job.Timeout+3*o.cfg.Grace)
	defer cancelLife()

	provCtx, cancelProv := context.WithTimeout(lifeCtx, o.cfg.ProvisionTimeout)
	defer cancelProv()

	id, err := o.rt.Create(provCtx, spec)
	if err != nil {
		return nil, provisionError(ctx, "create container", err)
	}
	releaseUnit := stack.Push("container", func(ctx context.Context) error {
		return o.remove(ctx, id)
	})
	logger.Debug("container created", slog.String("containerId", shortID(id)))

	stream, err := o.rt.Attach(provCtx, id)
	if err != nil {
		return nil, provisionError(ctx, "attach container", err)
	}
	closeStream := stack.Push("output stream", func(context.Context) error {
		return stream.Close()
	})

	exited := o.rt.Wait(lifeCtx, id)

	collector := NewCollector(o.cfg.MaxOutputBytes)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if err := collector.Consume(stream); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("output stream ended", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	if err := o.rt.Start(provCtx, id); err != nil {
		return nil, provisionError(ctx, "start container", err)
	}

	runCtx, cancelRun := context.WithTimeout(ctx, job.Timeout)
	defer cancelRun()

	select {
	case st := <-exited:
		duration := time.Since(start)
		if st.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperror.Infrastructure("wait for container", st.Err)
		}
		o.awaitDrain(drained, logger)

		out := &Outcome{Output: collector.Snapshot(), Duration: duration}
		if !out.HasExitCode {
			out.ExitCode = int(st.Code)
		}
		logger.Info("execution completed",
			slog.Int("exitCode", out.ExitCode),
			slog.Duration("duration", duration),
		)
		return out, nil

	case <-runCtx.Done():
		duration := time.Since(start)
		if ctx.Err() != nil {
			// Caller went away. The deferred cleanup reclaims the unit.
			logger.Warn("execution abandoned", slog.String("reason", ctx.Err().Error()))
			return nil, ctx.Err()
		}

		logger.Warn("execution timed out, killing container", slog.Duration("timeout", job.Timeout))
		o.kill(id, exited, logger)
		_ = closeStream(context.Background())
		o.awaitDrain(drained, logger)

		reclaimCtx, cancel := context.WithTimeout(context.Background(), 2*o.cfg.Grace)
		if err := releaseUnit(reclaimCtx); err != nil {
			logger.Error("container could not be removed, leaving it to the reaper",
				slog.String("containerId", shortID(id)),
				slog.String("error", err.Error()),
			)
		}
		cancel()

		out := &Outcome{Output: collector.Snapshot(), TimedOut: true, Duration: duration}
		out.ExitCode = TimeoutExitCode
		out.HasExitCode = false
		return out, nil
	}
}

// kill sends SIGKILL and waits up to the grace period for the unit to go away.
func (o *Orchestrator) kill(id string, exited <-chan ExitStatus, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Grace)
	defer cancel()

	if err := o.rt.Kill(ctx, id); err != nil {
		logger.Warn("failed to kill container", slog.String("containerId", shortID(id)), slog.String("error", err.Error()))
	}

	select {
	case <-exited:
	case <-ctx.Done():
		logger.Warn("container still present after kill", slog.String("containerId", shortID(id)))
	}
}

// remove force-removes the unit, retrying once.
func (o *Orchestrator) remove(ctx context.Context, id string) error {
	err := o.rt.Remove(ctx, id)
	if err == nil {
		return nil
	}
	o.logger.Warn("failed to remove container, retrying", slog.String("containerId", shortID(id)), slog.String("error", err.Error()))

	select {
	case <-time.After(o.cfg.Grace / 4):
	case <-ctx.Done():
		return err
	}
	if retryErr := o.rt.Remove(ctx, id); retryErr != nil {
		return fmt.Errorf("remove container %s: %w", shortID(id), retryErr)
	}
	return nil
}

func (o *Orchestrator) awaitDrain(drained <-chan struct{}, logger *slog.Logger) {
	select {
	case <-drained:
	case <-time.After(o.cfg.Grace):
		logger.Warn("output stream did not close in time")
	}
}

// provisionError keeps a caller cancellation recognisable; everything else is
// an infrastructure failure.
func provisionError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperror.Infrastructure(op, err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
