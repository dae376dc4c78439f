package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/api-relay/internal/queue"
)

// QueueInspector is the part of the offline queue the queue tools need.
type QueueInspector interface {
	List() ([]queue.Request, error)
	DeadLetters() ([]queue.Request, error)
	Requeue(id string) error
	Remove(id string) error
	DrainAsync(reason string) <-chan queue.DrainResult
}

// QueueStatusHandler returns the MCP tool handler for the "queue-status" tool.
// online may be nil.
func QueueStatusHandler(q QueueInspector, online func() bool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		live, err := q.List()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		dead, err := q.DeadLetters()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var sb strings.Builder
		if online != nil {
			state := "offline"
			if online() {
				state = "online"
			}
			sb.WriteString("Connectivity: " + state + "\n\n")
		}
		writeRequests(&sb, "Pending", live)
		sb.WriteString("\n")
		writeRequests(&sb, "Dead letters", dead)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// QueueActionHandler returns the MCP tool handler for the "queue-action"
// tool: requeue or remove a request by id, or start a drain.
func QueueActionHandler(q QueueInspector) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		action, err := req.RequireString("action")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if action == "drain" {
			res := <-q.DrainAsync("tool")
			switch {
			case errors.Is(res.Err, queue.ErrDrainInProgress):
				return mcp.NewToolResultText("Drain skipped: another drain is already running."), nil
			case errors.Is(res.Err, queue.ErrNoExecutor):
				return mcp.NewToolResultError("drain unavailable: " + res.Err.Error()), nil
			case res.Err != nil && res.Attempted == 0:
				return mcp.NewToolResultError(res.Err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Drain: attempted %d, sent %d, failed %d, dead-lettered %d, interrupted %t",
				res.Attempted, res.Sent, res.Failed, res.DeadLettered, res.Interrupted)), nil
		}

		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		switch action {
		case "requeue":
			err = q.Requeue(id)
		case "remove":
			err = q.Remove(id)
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown action %q (want requeue, remove or drain)", action)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s: %s", action, id)), nil
	}
}

func writeRequests(sb *strings.Builder, title string, reqs []queue.Request) {
	sb.WriteString(fmt.Sprintf("%s (%d):\n", title, len(reqs)))
	if len(reqs) == 0 {
		sb.WriteString("  none\n")
		return
	}
	for i, r := range reqs {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s %s\n   id=%s enqueued=%s attempts=%d",
			i+1, r.Priority, r.Method, r.Endpoint, r.ID, r.EnqueuedAt.Format(time.RFC3339), r.Attempts))
		if r.LastError != "" {
			sb.WriteString("\n   last error: ")
			sb.WriteString(r.LastError)
		}
		sb.WriteString("\n")
	}
}
