// Package mcpserver exposes the take library and the coach as MCP tools,
// so an assistant can review recorded self-introductions.
//
// Four tools are registered by [New]:
//   - "list_takes"          recent takes, newest first.
//   - "get_take"            one take with everything stored for it.
//   - "evaluate_transcript" a persona evaluation of arbitrary text.
//   - "generate_profile"    a short social-media profile.
//
// The server runs over stdio ([Server.RunStdio]) or is mounted as a
// streamable HTTP handler ([Server.Handler]).
package mcpserver

import (
	"context"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/introcoach/internal/app"
)

// Implementation name and version reported to clients.
const (
	Name    = "introcoach"
	Version = "1.0.0"
)

// Server is an MCP server backed by an [app.App].
type Server struct {
	app *app.App
	sdk *mcpsdk.Server
}

// New creates the server and registers its tools.
func New(a *app.App) *Server {
	s := &Server{
		app: a,
		sdk: mcpsdk.NewServer(&mcpsdk.Implementation{Name: Name, Version: Version}, nil),
	}
	s.registerTools()
	return s
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() *mcpsdk.Server { return s.sdk }

// RunStdio serves one client over stdin/stdout until ctx is cancelled or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler returns a streamable HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.sdk
	}, nil)
}

// instrument wraps a typed tool handler with call metrics.
func instrument[In, Out any](s *Server, tool string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.app.Metrics().RecordToolCall(ctx, tool, status, time.Since(start))
		return res, out, err
	}
}
