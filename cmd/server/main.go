// Package main is the entry point for the code runner server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal: its job is to:
// 1. Read configuration (viper: defaults, coderunner.yaml, .env, environment)
// 2. Create dependencies (logger, Docker client, execution pipeline)
// 3. Start the application and stop it cleanly
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY fx?
// The runner has several long-lived pieces with start/stop ordering rules:
// the HTTP server must stop (draining in-flight executions) BEFORE the orphan
// reaper does its final sweep, and the Docker client must close last.
// fx builds the dependency graph from constructor signatures and runs OnStop
// hooks in reverse start order, which gives exactly that sequence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/docker"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/logging"
	"github.com/sakif/code-runner/internal/mcpserver"
	"github.com/sakif/code-runner/internal/server"
	"github.com/sakif/code-runner/internal/service"
	"github.com/sakif/code-runner/internal/workspace"
)

func main() {
	// Run blocks until SIGINT/SIGTERM, then runs the OnStop hooks.
	fx.New(options()).Run()
}

// options is the whole application graph.
func options() fx.Option {
	return fx.Options(
		// === 1. CONFIGURATION & LOGGING ===
		fx.Provide(
			config.Load,
			newLogger,
		),

		// === 2. EXECUTION PIPELINE ===
		// Registry → Workspaces → Docker runtime → Orchestrator → Service
		fx.Provide(
			newRegistry,
			newWorkspaces,
			newRuntime,
			newOrchestrator,
			newExecutionService,
			newReaper,
		),

		// === 3. GATEWAY ===
		fx.Provide(
			newTokenService,
			newMCPHandler,
			newServer,
		),

		// Invoke order is start order; stop order is the reverse.
		fx.Invoke(
			func(*executor.Reaper) {},
			func(*server.Server) {},
		),

		fx.StartTimeout(45*time.Second),
		fx.StopTimeout(45*time.Second),

		// Use the application logger for fx logs
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func newRegistry(cfg *config.Config, logger *slog.Logger) (*language.Registry, error) {
	registry, err := language.New(language.Builtin(), cfg.LanguageOverrides(), cfg.MaxTimeout())
	if err != nil {
		return nil, err
	}
	logger.Info("languages loaded", slog.Any("languages", registry.IDs()))
	return registry, nil
}

// newWorkspaces uses the real filesystem. Workspace directories are bind
// mounted into containers, so they must live on the Docker host.
func newWorkspaces(cfg *config.Config, logger *slog.Logger) (*workspace.Manager, error) {
	return workspace.NewManager(afero.NewOsFs(), cfg.Sandbox.TempDir, logger)
}

// newRuntime connects to Docker. A daemon that is down at startup is not
// fatal: /health reports "degraded" and executions fail with a 500 until it
// comes back.
func newRuntime(lc fx.Lifecycle, cfg *config.Config, registry *language.Registry, logger *slog.Logger) (*docker.Runtime, error) {
	rt, err := docker.New(cfg.Docker(), logger)
	if err != nil {
		return nil, err
	}

	pullCtx, cancelPull := context.WithCancel(context.Background())
	pulled := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rt.Ping(ctx); err != nil {
				logger.Warn("docker daemon unreachable at startup", slog.String("error", err.Error()))
			}
			// Pulling can take minutes; serve meanwhile.
			go func() {
				defer close(pulled)
				rt.EnsureImages(pullCtx, registry.Images())
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelPull()
			select {
			case <-pulled:
			case <-ctx.Done():
			}
			return rt.Close()
		},
	})
	return rt, nil
}

func newOrchestrator(rt *docker.Runtime, cfg *config.Config, logger *slog.Logger) *executor.Orchestrator {
	return executor.NewOrchestrator(rt, cfg.Orchestrator(), logger)
}

func newExecutionService(registry *language.Registry, ws *workspace.Manager, orch *executor.Orchestrator, cfg *config.Config, logger *slog.Logger) *service.ExecutionService {
	return service.NewExecutionService(registry, ws, orch, cfg.MaxTimeout(), logger).
		WithCleanupTimeout(2 * cfg.Grace())
}

func newReaper(lc fx.Lifecycle, rt *docker.Runtime, ws *workspace.Manager, cfg *config.Config, logger *slog.Logger) *executor.Reaper {
	reaper := executor.NewReaper(rt, ws, cfg.Reaper(), logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			reaper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			reaper.Stop()
			return nil
		},
	})
	return reaper
}

// newTokenService returns nil when no secret is configured, which leaves
// /execute open.
func newTokenService(cfg *config.Config, logger *slog.Logger) (*auth.TokenService, error) {
	if cfg.Auth.Secret == "" {
		logger.Warn("auth.secret not set, /execute accepts unauthenticated requests")
		return nil, nil
	}
	return auth.NewTokenService(cfg.Auth.Secret)
}

// mcpHandler keeps a possibly-nil handler distinct from other http.Handlers
// in the fx graph.
type mcpHandler struct {
	http.Handler
}

func newMCPHandler(cfg *config.Config, svc *service.ExecutionService, logger *slog.Logger) mcpHandler {
	if !cfg.MCP.Enabled {
		return mcpHandler{}
	}
	return mcpHandler{Handler: mcpserver.New(svc, logger).Handler()}
}

func newServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	svc *service.ExecutionService,
	rt *docker.Runtime,
	tokens *auth.TokenService,
	mcp mcpHandler,
	logger *slog.Logger,
) *server.Server {
	srv := server.New(server.Config{
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		WriteTimeout: cfg.MaxTimeout() + cfg.Orchestrator().ProvisionTimeout + 30*time.Second,
		Development:  cfg.Development(),
	}, server.Deps{
		Executor: svc,
		Catalog:  svc,
		Runtime:  rt,
		Tokens:   tokens,
		MCP:      mcp.Handler,
	}, logger)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
