package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/api-relay/internal/queue"
	"github.com/leonardcser/api-relay/internal/request"
)

// Requester is the part of the orchestrator the api-request tool needs.
type Requester interface {
	Do(ctx context.Context, endpoint string, opts request.Options) (*request.Response, error)
}

// APIRequestHandler returns the MCP tool handler for the "api-request" tool.
func APIRequestHandler(r Requester) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		endpoint, err := req.RequireString("endpoint")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := request.Options{
			Method:         strings.ToUpper(req.GetString("method", http.MethodGet)),
			UseCache:       request.Bool(req.GetBool("useCache", true)),
			RetryOnFailure: request.Bool(req.GetBool("retry", true)),
			OfflineSupport: request.Bool(req.GetBool("offlineSupport", true)),
			Priority:       queue.ParsePriority(req.GetString("priority", "")),
		}
		if body := req.GetString("body", ""); body != "" {
			if !json.Valid([]byte(body)) {
				return mcp.NewToolResultError("body must be valid JSON"), nil
			}
			opts.Body = json.RawMessage(body)
		}
		if q := req.GetString("query", ""); q != "" {
			params, err := url.ParseQuery(strings.TrimPrefix(q, "?"))
			if err != nil {
				return mcp.NewToolResultError("invalid query: " + err.Error()), nil
			}
			opts.Params = params
		}

		resp, err := r.Do(ctx, endpoint, opts)
		if id, ok := request.IsQueued(err); ok {
			return mcp.NewToolResultText(fmt.Sprintf("Offline: %s %s queued as %s and will be sent when the connection returns.", opts.Method, endpoint, id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(formatError(err)), nil
		}
		return mcp.NewToolResultText(formatResponse(resp)), nil
	}
}

// formatResponse renders a status line, an optional note, then the payload.
func formatResponse(resp *request.Response) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status: %d", resp.Status))
	if resp.FromCache {
		sb.WriteString(" (cached)")
	}
	sb.WriteString("\n")
	if resp.Message != "" {
		sb.WriteString("Note: ")
		sb.WriteString(resp.Message)
		sb.WriteString("\n")
	}
	if len(resp.Data) > 0 {
		sb.WriteString("\n")
		sb.WriteString(indentJSON(resp.Data))
	}
	return sb.String()
}

func formatError(err error) string {
	apiErr, ok := request.AsAPIError(err)
	if !ok || apiErr.Details == nil {
		return err.Error()
	}
	details, mErr := json.MarshalIndent(apiErr.Details, "", "  ")
	if mErr != nil {
		return err.Error()
	}
	return err.Error() + "\n\n" + string(details)
}

func indentJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
