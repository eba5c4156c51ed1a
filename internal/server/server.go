// Package server exposes the playground as an MCP tool server.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"codeberg.org/sigterm-de/goplay/internal/evaluator"
	"codeberg.org/sigterm-de/goplay/internal/playground"
	"codeberg.org/sigterm-de/goplay/internal/versions"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EvaluateArgs are the arguments of the evaluate tool.
type EvaluateArgs struct {
	Source  string `json:"source" jsonschema:"Playground source: TypeScript, Flow or JavaScript, with JSX"`
	Version string `json:"version,omitempty" jsonschema:"Library version to run against, e.g. 22.8.0. Defaults to master"`
	Code    bool   `json:"code,omitempty" jsonschema:"Include the compiled script in the result"`
	DOM     bool   `json:"dom,omitempty" jsonschema:"Include the rendered root element in the result"`
}

// Frame is one rendered stack frame.
type Frame struct {
	Function string `json:"function"`
	Location string `json:"location"`
}

// ErrorInfo describes a failed run.
type ErrorInfo struct {
	Kind    string  `json:"kind"`
	Header  string  `json:"header"`
	Message string  `json:"message"`
	Frames  []Frame `json:"frames,omitempty"`
}

// EvaluateResult is the structured output of the evaluate tool.
type EvaluateResult struct {
	State    string     `json:"state"`
	Version  string     `json:"version"`
	FellBack bool       `json:"fellBack,omitempty"`
	Logs     []string   `json:"logs"`
	Error    *ErrorInfo `json:"error,omitempty"`
	Code     string     `json:"code,omitempty"`
	DOM      string     `json:"dom,omitempty"`
	// Active reports timers or listeners the run left registered.
	Active bool `json:"active"`
}

// ListVersionsArgs are the arguments of the list_versions tool.
type ListVersionsArgs struct {
	Query string `json:"query,omitempty" jsonschema:"Fuzzy filter, e.g. 22.8"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of versions returned. Defaults to 50"`
}

// ListVersionsResult is the structured output of the list_versions tool.
type ListVersionsResult struct {
	Versions []string `json:"versions"`
	Total    int      `json:"total"`
}

// CatalogFunc loads the version catalog.
type CatalogFunc func(ctx context.Context) (versions.Catalog, error)

// Config configures a Server.
type Config struct {
	Playground *playground.Playground
	Catalog    CatalogFunc
	// Timeout bounds one evaluation. Defaults to 30 seconds.
	Timeout time.Duration
	Version string
}

// Server is the MCP front end. Evaluations are serialised: the playground
// has one realm and one log buffer.
type Server struct {
	cfg Config
	mcp *mcp.Server

	runMu sync.Mutex

	catMu   sync.Mutex
	catalog versions.Catalog
}

const defaultListLimit = 50

// New builds the server and registers its tools.
func New(cfg Config) (*Server, error) {
	if cfg.Playground == nil {
		return nil, fmt.Errorf("server: %w: Playground is required", evaluator.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "goplay",
		Version: cfg.Version,
	}, &mcp.ServerOptions{
		Instructions: `Effector playground.

"evaluate" compiles and runs a snippet against a library version and returns
console output, the run state and, on failure, a source-mapped stack.
Framework exports (createStore, createEvent, sample, ...) are globals; imports
from effector, effector-react, forest and patronum resolve to them.
"list_versions" lists the versions "evaluate" accepts.`,
	})
	s.mcp.AddReceivingMiddleware(loggingMiddleware())

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "evaluate",
		Description: "Compile and run a playground snippet. Top-level await is allowed.",
	}, s.evaluate)

	if cfg.Catalog != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "list_versions",
			Description: "List published library versions, newest first, master at the top.",
		}, s.listVersions)
	}
	return s, nil
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves over stdin and stdout until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) evaluate(ctx context.Context, _ *mcp.CallToolRequest, args EvaluateArgs) (*mcp.CallToolResult, EvaluateResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pg := s.cfg.Playground
	out, err := pg.Set(ctx, args.Source, args.Version)
	var rec *evaluator.Record
	if err != nil && !errors.As(err, &rec) {
		return nil, EvaluateResult{}, fmt.Errorf("evaluate: %w", err)
	}

	res := EvaluateResult{
		State:    out.State.String(),
		Version:  out.Version,
		FellBack: out.FellBack,
		Logs:     []string{},
		Active:   pg.Activity().Active(),
	}
	for _, l := range pg.Logs() {
		res.Logs = append(res.Logs, l.Method+": "+l.String())
	}
	if rec != nil {
		res.Error = errorInfo(rec)
	}
	if args.Code && out.Result != nil {
		res.Code = out.Result.Code
	}
	if args.DOM {
		if res.DOM, err = pg.RootHTML(ctx); err != nil {
			return nil, EvaluateResult{}, fmt.Errorf("evaluate: dom: %w", err)
		}
	}
	return nil, res, nil
}

func errorInfo(rec *evaluator.Record) *ErrorInfo {
	info := &ErrorInfo{
		Kind:    string(rec.Kind),
		Header:  rec.Header,
		Message: rec.Message,
	}
	for _, f := range rec.StackFrames {
		info.Frames = append(info.Frames, Frame{Function: f.DisplayName(), Location: f.Location()})
	}
	return info
}

func (s *Server) listVersions(ctx context.Context, _ *mcp.CallToolRequest, args ListVersionsArgs) (*mcp.CallToolResult, ListVersionsResult, error) {
	cat, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, ListVersionsResult{}, fmt.Errorf("list_versions: %w", err)
	}
	list := cat.All()
	if args.Query != "" {
		list = cat.Search(args.Query)
	}
	total := len(list)
	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(list) > limit {
		list = list[:limit]
	}
	return nil, ListVersionsResult{Versions: list, Total: total}, nil
}

// loadCatalog loads the catalog once; failures are retried on the next call.
func (s *Server) loadCatalog(ctx context.Context) (versions.Catalog, error) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	if s.catalog != nil {
		return s.catalog, nil
	}
	cat, err := s.cfg.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	s.catalog = cat
	return cat, nil
}
