// Package service contains the request pipeline of the runner.
//
// THE LAYERS:
//
//	Handler (HTTP layer)      → parses requests, writes responses
//	Service (pipeline layer)  → validates, allocates, runs, reclaims
//	Executor (sandbox layer)  → talks to the container runtime
//
// The service has ZERO knowledge of HTTP. The same ExecutionService backs the
// /execute endpoint, the MCP execute_code tool and the integration tests.
//
// DEPENDENCY INJECTION:
// ExecutionService takes interfaces (Workspaces, Runner), not concrete types.
// In tests we pass an in-memory filesystem and a fake runner that counts
// the units it "creates" (see execution_test.go).
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/cleanup"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/workspace"
)

// Messages returned to callers. They match what existing clients display.
const (
	MsgMissingFields = "Code and language are required"
	MsgTimedOut      = "execution timed out"
	MsgInternal      = "Internal server error during code execution"
)

// Workspaces is the part of workspace.Manager the pipeline uses.
type Workspaces interface {
	Create(executionID string) (*workspace.Workspace, error)
	WriteSource(ws *workspace.Workspace, profile language.Profile, code string) error
	WriteInput(ws *workspace.Workspace, input string) error
	Destroy(ws *workspace.Workspace) error
}

// Runner runs one job in a sandbox. executor.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, stack *cleanup.Stack, job executor.Job) (*executor.Outcome, error)
}

// ExecutionService turns an ExecutionRequest into an ExecutionResult.
type ExecutionService struct {
	registry   *language.Registry
	workspaces Workspaces
	runner     Runner
	maxTimeout time.Duration
	logger     *slog.Logger

	// cleanupTimeout bounds each release action, container removal included.
	cleanupTimeout time.Duration

	// newID is swapped in tests to force collisions.
	newID func() string
}

var _ executor.Executor = (*ExecutionService)(nil)

// NewExecutionService creates the pipeline. maxTimeout is the ceiling every
// requested timeout is clamped to.
func NewExecutionService(registry *language.Registry, workspaces Workspaces, runner Runner, maxTimeout time.Duration, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		registry:       registry,
		workspaces:     workspaces,
		runner:         runner,
		maxTimeout:     maxTimeout,
		logger:         logger,
		cleanupTimeout: cleanup.DefaultTimeout,
		newID:          func() string { return uuid.New().String() },
	}
}

// WithCleanupTimeout sets how long each release action may take once an
// execution ends. The server uses twice the kill grace period, the same bound
// the orchestrator gives removal after a timeout.
func (s *ExecutionService) WithCleanupTimeout(d time.Duration) *ExecutionService {
	if d > 0 {
		s.cleanupTimeout = d
	}
	return s
}

// Languages returns the supported language profiles in display order.
func (s *ExecutionService) Languages() []language.Profile {
	return s.registry.List()
}

// Execute runs one submission end to end.
//
// THE CONTRACT:
// Execute ALWAYS returns a non-nil result carrying the execution id and the
// elapsed time, so the gateway can echo them even on failure. err tells the
// caller what kind of failure it was:
//
//	nil                     → orchestration succeeded (the program may still have failed!)
//	ErrValidation           → missing fields, nothing allocated
//	ErrUnsupportedLanguage  → unknown language, nothing allocated
//	ErrTimeout              → deadline hit; result holds the partial output
//	ErrInfrastructure       → workspace or container could not be provisioned
//
// THE CLEANUP GUARANTEE:
// Every resource is pushed onto a cleanup.Stack the moment it exists, and the
// stack is closed by a defer. That defer runs on normal return, early return,
// timeout and panic, so the container is removed and then the workspace,
// exactly once, before Execute returns.
func (s *ExecutionService) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()
	res := &executor.ExecutionResult{
		ExecutionID: s.newID(),
		Language:    req.Language,
		ExitCode:    -1,
	}
	logger := s.logger.With(slog.String("executionId", res.ExecutionID))

	// === VALIDATION (no side effects before this point) ===
	if req.Code == "" || strings.TrimSpace(req.Language) == "" {
		res.Error = MsgMissingFields
		res.ExecutionTime = elapsedMs(start)
		return res, apperror.ValidationFailed("code", MsgMissingFields)
	}

	profile, err := s.registry.Resolve(req.Language)
	if err != nil {
		res.Error = err.Error()
		res.ExecutionTime = elapsedMs(start)
		return res, err
	}
	res.Language = profile.ID
	timeout := s.timeoutFor(req.Timeout, profile)
	logger = logger.With(slog.String("language", profile.ID))

	// === ALLOCATION ===
	stack := cleanup.New(s.logger).WithTimeout(s.cleanupTimeout)
	defer func() {
		stack.Close()
		res.ExecutionTime = elapsedMs(start)
	}()

	ws, err := s.workspaces.Create(res.ExecutionID)
	if err != nil {
		return s.infraFailure(logger, res, err)
	}
	stack.Push("workspace", func(context.Context) error {
		return s.workspaces.Destroy(ws)
	})

	if err := s.workspaces.WriteSource(ws, profile, req.Code); err != nil {
		return s.infraFailure(logger, res, err)
	}
	if err := s.workspaces.WriteInput(ws, req.Input); err != nil {
		return s.infraFailure(logger, res, err)
	}

	// === EXECUTION ===
	out, err := s.runner.Run(ctx, stack, executor.Job{
		ExecutionID: res.ExecutionID,
		Profile:     profile,
		Workspace:   ws,
		Timeout:     timeout,
	})
	if err != nil {
		return s.infraFailure(logger, res, err)
	}

	res.Output = out.Stdout
	res.Error = out.Stderr
	res.ExitCode = out.ExitCode

	if out.TimedOut {
		res.TimedOut = true
		res.Error = strings.TrimSpace(MsgTimedOut + "\n" + out.Stderr)
		logger.Warn("execution timed out", slog.Duration("timeout", timeout))
		return res, apperror.TimedOut(res.ExecutionID)
	}

	res.Success = true
	return res, nil
}

// timeoutFor clamps a requested timeout (ms) to [1ms, maxTimeout]. No request
// selects the language default.
func (s *ExecutionService) timeoutFor(requested *int64, p language.Profile) time.Duration {
	if requested == nil {
		if p.DefaultTimeout > 0 && p.DefaultTimeout <= s.maxTimeout {
			return p.DefaultTimeout
		}
		return s.maxTimeout
	}
	ms := *requested
	if ms < 1 {
		ms = 1
	}
	if ms > s.maxTimeout.Milliseconds() {
		return s.maxTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// infraFailure logs the full cause and returns a result with only the generic
// message. Client cancellations pass through untouched.
func (s *ExecutionService) infraFailure(logger *slog.Logger, res *executor.ExecutionResult, err error) (*executor.ExecutionResult, error) {
	res.Success = false
	res.Error = MsgInternal
	abandoned := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if abandoned && !errors.Is(err, apperror.ErrInfrastructure) {
		logger.Warn("execution abandoned by caller", slog.String("error", err.Error()))
		return res, err
	}
	logger.Error("execution failed", slog.String("error", err.Error()))
	return res, err
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
