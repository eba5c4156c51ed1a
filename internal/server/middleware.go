package server

import (
	"context"
	"time"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// loggingMiddleware writes one log line per request and response.
func loggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			if err != nil {
				logging.Logf(logging.WARN, "mcp", "%s failed after %v: %v", method, time.Since(start), err)
			} else {
				logging.Logf(logging.DEBUG, "mcp", "%s ok in %v", method, time.Since(start))
			}
			return result, err
		}
	}
}
