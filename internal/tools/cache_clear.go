package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/api-relay/internal/cache"
)

// CacheStats is the part of the cache store the cache tools need.
type CacheStats interface {
	ClearCategory(category cache.Category) error
	ClearAll() error
	Count() (map[cache.Category]int, error)
}

// CacheClearHandler returns the MCP tool handler for the "cache-clear" tool.
// An empty category clears every entry.
func CacheClearHandler(store CacheStats) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category := cache.Category(req.GetString("category", ""))
		var err error
		switch {
		case category == "":
			err = store.ClearAll()
		case category.Valid():
			err = store.ClearCategory(category)
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown category %q (want one of %s)", category, categoryNames())), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		counts, err := store.Count()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		scope := "all categories"
		if category != "" {
			scope = string(category)
		}
		return mcp.NewToolResultText("Cleared " + scope + ".\n\n" + formatCounts(counts)), nil
	}
}

// CacheStatsHandler returns the MCP tool handler for the "cache-stats" tool.
func CacheStatsHandler(store CacheStats) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := store.Count()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatCounts(counts)), nil
	}
}

func formatCounts(counts map[cache.Category]int) string {
	var sb strings.Builder
	sb.WriteString("Cached entries:\n")
	for _, c := range cache.Categories {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", c, counts[c]))
	}
	return sb.String()
}

func categoryNames() string {
	names := make([]string, len(cache.Categories))
	for i, c := range cache.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
