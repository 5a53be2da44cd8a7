package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/language"
)

// MsgInvalidBody is returned when the request body is not a JSON object.
const MsgInvalidBody = "Invalid JSON request body"

// MsgBodyTooLarge is returned when the body exceeds server.max_body_bytes.
const MsgBodyTooLarge = "Request body too large"

// Catalog lists the languages the runner accepts.
// *service.ExecutionService satisfies it.
type Catalog interface {
	Languages() []language.Profile
}

// ExecuteHandler handles code execution requests.
type ExecuteHandler struct {
	exec        executor.Executor
	catalog     Catalog
	development bool
	logger      *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
//
// development controls whether infrastructure error details reach the client.
func NewExecuteHandler(exec executor.Executor, catalog Catalog, development bool, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:        exec,
		catalog:     catalog,
		development: development,
		logger:      logger,
	}
}

// HandleExecute processes POST /execute.
//
// REQUEST LIFECYCLE:
//  1. Decode the JSON body (bad JSON → 400 before anything is allocated)
//  2. Hand the request to the executor, which validates, runs and cleans up
//  3. Map the outcome to a status code
//
// By the time Execute returns, the container and workspace are already gone,
// so nothing here needs to clean up.
//
// A program that fails to compile or exits non-zero is still a 200: the
// orchestration worked, and the failure is data in the result.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))

		status, msg := http.StatusBadRequest, MsgInvalidBody
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, MsgBodyTooLarge
		}
		writeJSON(w, status, ErrorResponse{
			Error:       msg,
			ExecutionID: uuid.NewString(),
		})
		return
	}

	logger := h.logger
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		logger = logger.With(slog.String("caller", id.Service))
	}
	logger.Info("execution requested", slog.String("language", req.Language))

	res, err := h.exec.Execute(r.Context(), req)
	if res == nil {
		res = &executor.ExecutionResult{ExecutionID: uuid.NewString(), ExitCode: -1}
	}
	if err != nil {
		if r.Context().Err() != nil {
			logger.Warn("client went away before the result was ready",
				slog.String("executionId", res.ExecutionID))
		}
		h.writeExecutionError(w, res, err)
		return
	}

	logger.Info("execution completed",
		slog.String("executionId", res.ExecutionID),
		slog.Int("exitCode", res.ExitCode),
		slog.Int64("executionTimeMs", res.ExecutionTime),
	)
	writeJSON(w, http.StatusOK, res)
}

func (h *ExecuteHandler) supported() []string {
	if h.catalog == nil {
		return nil
	}
	profiles := h.catalog.Languages()
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	return ids
}
