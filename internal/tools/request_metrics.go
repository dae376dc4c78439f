package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/api-relay/internal/request"
)

// RequestMetricsHandler returns the MCP tool handler for the
// "request-metrics" tool.
func RequestMetricsHandler(snapshot func() request.Metrics) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		m := snapshot()
		return mcp.NewToolResultText(fmt.Sprintf(
			"Total requests: %d\nCache hits: %d\nNetwork requests: %d\nFailed requests: %d\nAverage response time: %s",
			m.TotalRequests, m.CacheHits, m.NetworkRequests, m.FailedRequests, m.AverageResponseTime)), nil
	}
}
