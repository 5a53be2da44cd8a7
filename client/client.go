// Package client is the Go adapter other services use to call the code runner.
//
// It never returns transport errors from Execute: every failure becomes a
// Result with Success false and ExitCode -1, so callers can show it to the
// learner directly. Nothing is retried; running the same program twice is the
// caller's decision.
//
// Usage:
//
//	c := client.New("http://code-runner:3001", client.WithServiceToken(secret, "lms-backend"))
//	res := c.Execute(ctx, client.Request{Code: src, Language: "python"})
//	if !res.Success {
//	    // show res.Error
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/code-runner/internal/auth"
)

// DefaultTimeout outlasts the runner's maximum execution time.
const DefaultTimeout = 60 * time.Second

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

// Request is the body of POST /execute.
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input,omitempty"`
	Timeout  *int64 `json:"timeout,omitempty"` // ms; nil selects the language default
}

// Result mirrors the runner's ExecutionResult.
type Result struct {
	ExecutionID   string `json:"executionId"`
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime int64  `json:"executionTime"`
	Language      string `json:"language"`
	TimedOut      bool   `json:"timedOut,omitempty"`
}

// Language is one entry of GET /languages.
type Language struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Extension   string `json:"extension"`
	Timeout     int64  `json:"timeout"`
}

// FallbackLanguages is returned by Languages when the runner cannot be reached,
// so language pickers keep working.
var FallbackLanguages = []Language{
	{Name: "python", DisplayName: "Python", Extension: ".py", Timeout: 30000},
	{Name: "javascript", DisplayName: "JavaScript", Extension: ".js", Timeout: 30000},
	{Name: "java", DisplayName: "Java", Extension: ".java", Timeout: 30000},
	{Name: "csharp", DisplayName: "C#", Extension: ".cs", Timeout: 30000},
	{Name: "cpp", DisplayName: "C++", Extension: ".cpp", Timeout: 30000},
}

// Health is the body of GET /health.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// TokenSource mints a bearer token for one request.
type TokenSource func() (string, error)

// Client talks to one runner instance. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. A client passed to WithHTTPClient
// is copied first, so the caller's instance keeps its own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithLogger routes failure logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTokenSource attaches a bearer token to every /execute call.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithServiceToken signs a fresh short-lived token per request with the
// runner's shared secret.
func WithServiceToken(secret, service string) Option {
	return func(c *Client) {
		tokens, err := auth.NewTokenService(secret)
		if err != nil {
			c.token = func() (string, error) { return "", err }
			return
		}
		c.token = func() (string, error) { return tokens.Generate(service) }
	}
}

// New creates a Client for the runner at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs a program. It always returns a non-nil Result.
//
// A 5xx that still carries a result body (a timeout) is passed through as is;
// any other non-2xx or undecodable response becomes a synthetic failure.
func (c *Client) Execute(ctx context.Context, req Request) *Result {
	req.Language = strings.ToLower(req.Language)
	fail := func(msg string) *Result {
		return &Result{Success: false, Error: msg, ExitCode: -1, Language: req.Language}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fail("Invalid execution request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return fail("Invalid code runner address")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token()
		if err != nil {
			c.logger.Error("signing service token", slog.String("error", err.Error()))
			return fail("Internal error during code execution")
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("code execution request failed", slog.String("error", err.Error()))
		if isTimeout(err) {
			return fail("Code execution timed out")
		}
		return fail("Internal error during code execution")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail("Internal error during code execution")
	}

	var res Result
	decodeErr := json.Unmarshal(raw, &res)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil {
			c.logger.Error("malformed execution result", slog.String("error", decodeErr.Error()))
			return fail("Malformed response from code execution service")
		}
	case resp.StatusCode >= 500 && decodeErr == nil && res.TimedOut:
		res.Success = false
	default:
		c.logger.Error("code execution failed",
			slog.Int("status", resp.StatusCode),
			slog.String("response", truncate(string(raw), 512)),
		)
		if decodeErr == nil && res.Error != "" {
			r := fail(res.Error)
			r.ExecutionID = res.ExecutionID
			return r
		}
		return fail(fmt.Sprintf("Code execution service error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	if res.Language == "" {
		res.Language = req.Language
	}
	return &res
}

// Languages lists the runner's languages, or FallbackLanguages on any failure.
func (c *Client) Languages(ctx context.Context) []Language {
	var body struct {
		Success   bool       `json:"success"`
		Languages []Language `json:"languages"`
	}
	if err := c.getJSON(ctx, "/languages", &body); err != nil {
		c.logger.Error("listing languages", slog.String("error", err.Error()))
		return fallback()
	}
	if !body.Success || len(body.Languages) == 0 {
		return fallback()
	}
	return body.Languages
}

// Health fetches the runner's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Healthy reports whether the runner answered and called itself healthy.
func (c *Client) Healthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	if err != nil {
		c.logger.Error("code runner health check failed", slog.String("error", err.Error()))
		return false
	}
	return h.Status == "healthy"
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decoding response: %w", path, err)
	}
	return nil
}

func fallback() []Language {
	out := make([]Language, len(FallbackLanguages))
	copy(out, FallbackLanguages)
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
