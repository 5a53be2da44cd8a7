package executor

import (
	"context"
	"io"
	"time"
)

// ExecutionRequest is one submission as received from a caller.
type ExecutionRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input,omitempty"`
	// Timeout in milliseconds. Nil selects the language default.
	Timeout *int64 `json:"timeout,omitempty"`
}

// ExecutionResult is the outcome of one submission. Success means the sandbox
// ran the program to completion; the program's own status is ExitCode.
type ExecutionResult struct {
	ExecutionID   string `json:"executionId"`
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime int64  `json:"executionTime"` // milliseconds
	Language      string `json:"language"`
	TimedOut      bool   `json:"timedOut,omitempty"`
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Limits are the resource ceilings applied to every execution unit. They come
// from process configuration only.
type Limits struct {
	MemoryBytes int64
	CPUQuota    int64 // microseconds per CPUPeriod
	CPUPeriod   int64
	PidsLimit   int64
	User        string
	TmpfsSize   string // e.g. "64m"
}

// UnitSpec describes the container to provision for one execution.
type UnitSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Env     []string
	HostDir string // bind-mounted read/write at WorkDir
	WorkDir string
	Labels  map[string]string
	Limits  Limits
}

// ExitStatus is delivered once when a unit stops (or waiting fails).
type ExitStatus struct {
	Code int64
	Err  error
}

// UnitInfo is what the reaper needs to know about a live unit.
type UnitInfo struct {
	ID          string
	ExecutionID string
	Created     time.Time
}

// Runtime is the container runtime as seen by the orchestrator and the reaper.
// The Docker implementation lives in the docker subpackage; tests use fakes.
type Runtime interface {
	Create(ctx context.Context, spec UnitSpec) (string, error)
	// Attach must be called before Start so no early output is lost.
	Attach(ctx context.Context, id string) (io.ReadCloser, error)
	// Wait must be called before Start; the channel fires once the unit has
	// stopped and been removed.
	Wait(ctx context.Context, id string) <-chan ExitStatus
	Start(ctx context.Context, id string) error
	Kill(ctx context.Context, id string) error
	// Remove force-removes the unit. A unit that is already gone is not an error.
	Remove(ctx context.Context, id string) error
	// List returns every unit carrying the managed label.
	List(ctx context.Context) ([]UnitInfo, error)
	Ping(ctx context.Context) error
}

// Labels applied to every unit so stragglers can be found after a crash.
const (
	LabelManaged     = "coderunner.managed"
	LabelExecutionID = "coderunner.execution-id"
)
