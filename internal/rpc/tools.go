package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/memorycore"
	"github.com/quillmind/memoryd/internal/model"
)

// buildTools wires the minimum tool set spec.md §4.8 requires to their
// Memory Core operations.
func buildTools(core *memorycore.Core, defaultEmbedMode config.EmbedMode) []tool {
	return []tool{
		storeMemoryTool(core, defaultEmbedMode),
		recallMemoriesTool(core),
		getMemoryTool(core),
		updateMemoryTool(core),
		deleteMemoryTool(core),
		getMemoryStatsTool(core),
		updateMissingEmbeddingsTool(core),
	}
}

func storeMemoryTool(core *memorycore.Core, defaultEmbedMode config.EmbedMode) tool {
	return tool{
		def: mcp.Tool{
			Name:        "store_memory",
			Description: "Store a new memory for the authenticated user.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"title":      map[string]any{"type": "string"},
					"content":    map[string]any{"type": "string"},
					"type":       map[string]any{"type": "string"},
					"importance": map[string]any{"type": "number"},
					"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"entityIds":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"mode":       map[string]any{"type": "string", "enum": []string{"sync", "async", "disabled"}},
				},
				Required: []string{"content"},
			},
		},
		handler: func(ctx context.Context, userID string, params json.RawMessage) (string, error) {
			var args struct {
				Title      string         `json:"title"`
				Content    string         `json:"content"`
				Type       string         `json:"type"`
				Importance float64        `json:"importance"`
				Tags       []string       `json:"tags"`
				EntityIDs  []string       `json:"entityIds"`
				Mode       any            `json:"mode"`
				Metadata   model.Metadata `json:"metadata"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			mode := config.NormalizeEmbedMode(args.Mode, defaultEmbedMode)
			result, err := core.AddMemory(ctx, userID, args.Title, args.Content, memorycore.AddMemoryOptions{
				Type:       model.MemoryType(args.Type),
				Importance: args.Importance,
				Tags:       args.Tags,
				EntityIDs:  args.EntityIDs,
				Metadata:   args.Metadata,
				EmbedMode:  mode,
			})
			if err != nil {
				return "", err
			}
			status := "queued for embedding"
			if result.HasEmbedding {
				status = "embedded"
			} else if !result.EmbeddingQueued {
				status = "stored without embedding"
			}
			msg := fmt.Sprintf("Stored memory %s (%s)", result.ID, status)
			if len(result.DroppedEntityIDs) > 0 {
				msg += fmt.Sprintf("; ignored unknown entity ids: %s", strings.Join(result.DroppedEntityIDs, ", "))
			}
			return msg, nil
		},
	}
}

func recallMemoriesTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "recall_memories",
			Description: "Search stored memories by relevance to a query.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"query":     map[string]any{"type": "string"},
					"strategy":  map[string]any{"type": "string", "enum": []string{"similarity", "composite", "recency", "frequency", "importance"}},
					"limit":     map[string]any{"type": "number"},
					"threshold": map[string]any{"type": "number"},
				},
				Required: []string{"query"},
			},
		},
		handler: func(ctx context.Context, userID string, params json.RawMessage) (string, error) {
			var args struct {
				Query     string  `json:"query"`
				Strategy  string  `json:"strategy"`
				Limit     int     `json:"limit"`
				Threshold float64 `json:"threshold"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			limit := args.Limit
			if limit <= 0 {
				limit = 10
			}
			resp, err := core.RecallMemories(ctx, userID, args.Query, memorycore.RecallOptions{
				Strategy:  memorycore.Strategy(args.Strategy),
				Limit:     limit,
				Threshold: args.Threshold,
			})
			if err != nil {
				return "", err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%d result(s)", len(resp.Results))
			if resp.Degraded {
				fmt.Fprintf(&b, " (degraded: %s)", resp.DegradedReason)
			}
			for _, r := range resp.Results {
				fmt.Fprintf(&b, "\n- [%.3f] %s: %s", r.Score, r.Memory.ID, r.Memory.Title)
			}
			return b.String(), nil
		},
	}
}

func getMemoryTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "get_memory",
			Description: "Fetch a single memory by id.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
				Required:   []string{"id"},
			},
		},
		handler: func(ctx context.Context, userID string, params json.RawMessage) (string, error) {
			var args struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			m, err := core.GetMemory(ctx, userID, args.ID)
			if err != nil {
				return "", err
			}
			if m == nil {
				return "Memory not found", nil
			}
			return fmt.Sprintf("%s: %s\n\n%s", m.Title, m.MemoryType, m.Content), nil
		},
	}
}

func updateMemoryTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "update_memory",
			Description: "Update fields on an existing memory.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"id":         map[string]any{"type": "string"},
					"title":      map[string]any{"type": "string"},
					"content":    map[string]any{"type": "string"},
					"importance": map[string]any{"type": "number"},
					"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"isArchived": map[string]any{"type": "boolean"},
				},
				Required: []string{"id"},
			},
		},
		handler: func(ctx context.Context, userID string, params json.RawMessage) (string, error) {
			var args struct {
				ID         string   `json:"id"`
				Title      *string  `json:"title"`
				Content    *string  `json:"content"`
				Importance *float64 `json:"importance"`
				Tags       *[]string `json:"tags"`
				IsArchived *bool    `json:"isArchived"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			m, err := core.UpdateMemory(ctx, userID, args.ID, memorycore.MemoryUpdate{
				Title:      args.Title,
				Content:    args.Content,
				Importance: args.Importance,
				Tags:       args.Tags,
				IsArchived: args.IsArchived,
			})
			if err != nil {
				return "", err
			}
			if m == nil {
				return "Memory not found", nil
			}
			return fmt.Sprintf("Updated memory %s", m.ID), nil
		},
	}
}

func deleteMemoryTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "delete_memory",
			Description: "Delete a memory by id.",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"id": map[string]any{"type": "string"}},
				Required:   []string{"id"},
			},
		},
		handler: func(ctx context.Context, userID string, params json.RawMessage) (string, error) {
			var args struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
			ok, err := core.DeleteMemory(ctx, userID, args.ID)
			if err != nil {
				return "", err
			}
			if !ok {
				return "Memory not found", nil
			}
			return fmt.Sprintf("Deleted memory %s", args.ID), nil
		},
	}
}

func getMemoryStatsTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "get_memory_stats",
			Description: "Get aggregate statistics over this user's memories.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
		},
		handler: func(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
			stats, err := core.GetStatistics(ctx, userID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Total: %d, with embedding: %d (%.1f%% coverage)",
				stats.Total, stats.WithEmbedding, stats.EmbeddingCoverage*100), nil
		},
	}
}

func updateMissingEmbeddingsTool(core *memorycore.Core) tool {
	return tool{
		def: mcp.Tool{
			Name:        "update_missing_embeddings",
			Description: "Kick the embedding worker to process any memory missing an embedding.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
		},
		handler: func(ctx context.Context, userID string, _ json.RawMessage) (string, error) {
			if err := core.UpdateMissingEmbeddings(ctx, userID); err != nil {
				return "", err
			}
			return "Missing-embedding scan queued", nil
		},
	}
}
