// Package mcpserver exposes the code runner as Model Context Protocol tools.
//
// Two tools are registered:
//
//	execute_code    runs a program through the same pipeline as POST /execute
//	list_languages  returns the enabled languages
//
// The server is served over streamable HTTP and mounted by the gateway on /mcp.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/language"
)

const (
	Name    = "code-runner"
	Version = "1.0.0"
)

// Backend is what the tools call into. *service.ExecutionService satisfies it.
type Backend interface {
	executor.Executor
	Languages() []language.Profile
}

// MCPServer wraps the mcp-go server with the runner's tools.
type MCPServer struct {
	backend   Backend
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// New creates an MCPServer and registers its tools.
func New(backend Backend, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		backend:   backend,
		logger:    logger,
		mcpServer: server.NewMCPServer(Name, Version, server.WithToolCapabilities(false)),
	}
	s.registerExecuteCodeTool()
	s.registerListLanguagesTool()
	return s
}

// Handler returns the streamable HTTP transport for mounting on a router.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithStateLess(true))
}

func (s *MCPServer) languageIDs() []string {
	profiles := s.backend.Languages()
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	return ids
}

func (s *MCPServer) registerExecuteCodeTool() {
	ids := s.languageIDs()
	tool := mcp.NewTool("execute_code",
		mcp.WithDescription(fmt.Sprintf(
			"Compile and run a program in an isolated, network-less container. Supported languages: %s.",
			strings.Join(ids, ", "))),
		mcp.WithString("code", mcp.Required(), mcp.Description("Complete program source")),
		mcp.WithString("language", mcp.Required(), mcp.Description("Language id"), mcp.Enum(ids...)),
		mcp.WithString("input", mcp.Description("Text fed to the program's standard input")),
		mcp.WithNumber("timeout", mcp.Description("Wall-clock limit in milliseconds")),
	)
	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.NewTool("list_languages",
		mcp.WithDescription("List the languages the runner accepts, with their default timeouts"),
	)
	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

// handleExecuteCode runs the program. Program failures and timeouts are normal
// tool results; only broken requests and infrastructure failures set IsError.
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code parameter is required"), nil
	}
	lang, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError("language parameter is required"), nil
	}

	req := executor.ExecutionRequest{
		Code:     code,
		Language: lang,
		Input:    request.GetString("input", ""),
	}
	if ms := int64(request.GetFloat("timeout", 0)); ms > 0 {
		req.Timeout = &ms
	}

	s.logger.Info("mcp execution requested", slog.String("language", lang))

	res, err := s.backend.Execute(ctx, req)
	if err != nil && !errors.Is(err, apperror.ErrTimeout) {
		msg := err.Error()
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		return mcp.NewToolResultError(msg), nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

type languageEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Extension   string `json:"extension"`
	Timeout     int64  `json:"timeout"`
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profiles := s.backend.Languages()
	out := make([]languageEntry, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, languageEntry{
			Name:        p.ID,
			DisplayName: p.DisplayName,
			Extension:   p.Extension,
			Timeout:     p.DefaultTimeout.Milliseconds(),
		})
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding languages: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
