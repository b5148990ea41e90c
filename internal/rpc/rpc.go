// Package rpc implements the RPC Surface (C8 in spec.md §4.8): a
// JSON-RPC 2.0 dispatcher exposing memoryd's operations as MCP-style
// "tools" over stdio and HTTP. The envelope and tool-result shapes are
// built on github.com/mark3labs/mcp-go/mcp's types, which the teacher
// declares in go.mod but never imports from any .go file; this package is
// the first real consumer of it. Dispatch and transport plumbing follow
// the teacher's internal/cmd/serve listener-construction idiom.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quillmind/memoryd/internal/auth"
	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/memorycore"
	"github.com/quillmind/memoryd/internal/metrics"
)

// Error codes per spec.md §4.8/§7.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeAuthRequired   = -32001
	CodeForbidden      = -32003
)

// Request is the JSON-RPC 2.0 envelope accepted by the dispatcher.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC 2.0 envelope returned by the dispatcher.
// Exactly one of Result / Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Authenticator resolves a bearer token into an Identity. *auth.Broker
// implements it; auth.NewStaticAuthenticator implements it for the legacy
// single-user stdio mode spec.md §6 permits, where there is no real
// bearer token to check.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (*auth.Identity, error)
}

// Dispatcher routes JSON-RPC requests to tool handlers, resolving the
// caller's identity via the Auth Broker before every method except ping
// and the protocol handshake, per spec.md §4.8.
type Dispatcher struct {
	broker  Authenticator
	tools   map[string]tool
	toolDef []mcp.Tool
	autoID  atomic.Int64
}

type tool struct {
	def     mcp.Tool
	handler func(ctx context.Context, userID string, params json.RawMessage) (string, error)
}

// NewDispatcher constructs a Dispatcher with the fixed tool set spec.md
// §4.8 requires. defaultEmbedMode is the per-transport default (stdio:
// sync, HTTP: async — spec.md §9 Open Question) applied when store_memory
// callers omit an explicit mode.
func NewDispatcher(core *memorycore.Core, broker Authenticator, defaultEmbedMode config.EmbedMode) *Dispatcher {
	d := &Dispatcher{broker: broker, tools: map[string]tool{}}
	for _, t := range buildTools(core, defaultEmbedMode) {
		d.tools[t.def.Name] = t
		d.toolDef = append(d.toolDef, t.def)
	}
	return d
}

// nextAutoID mints an id of the form "auto-<n>" for requests that omit
// one, per spec.md §4.8.
func (d *Dispatcher) nextAutoID() json.RawMessage {
	n := d.autoID.Add(1)
	b, _ := json.Marshal(fmt.Sprintf("auto-%d", n))
	return b
}

// Handle dispatches a single request. authHeader is the raw
// "Authorization" header value (may be empty); it is resolved for every
// method except ping and initialize.
func (d *Dispatcher) Handle(ctx context.Context, req Request, authHeader string) Response {
	id := req.ID
	if len(id) == 0 {
		id = d.nextAutoID()
	}
	resp := Response{JSONRPC: "2.0", ID: id}

	// ping and the protocol handshake are the only methods exempt from
	// authentication (spec.md §4.8).
	if req.Method == "ping" {
		resp.Result = map[string]any{}
		return resp
	}
	if req.Method == "initialize" {
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "memoryd", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}
		return resp
	}

	identity, err := d.broker.Authenticate(ctx, stripBearer(authHeader))
	if err != nil {
		resp.Error = &RPCError{Code: CodeAuthRequired, Message: "Authentication required"}
		return resp
	}

	switch req.Method {
	case "prompts/list":
		resp.Result = map[string]any{"prompts": []any{}}
		return resp

	case "resources/list":
		resp.Result = map[string]any{"resources": []any{}}
		return resp

	case "tools/list":
		resp.Result = map[string]any{"tools": d.toolDef}
		return resp

	case "tools/call":
		return d.handleToolCall(ctx, resp, req, identity)

	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "Method not found"}
		return resp
	}
}

func (d *Dispatcher) handleToolCall(ctx context.Context, resp Response, req Request, identity *auth.Identity) Response {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &call); err != nil {
		resp.Error = &RPCError{Code: CodeInvalidRequest, Message: "Invalid params"}
		return resp
	}

	t, ok := d.tools[call.Name]
	if !ok {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "Unknown tool"}
		return resp
	}

	start := time.Now()
	text, err := t.handler(ctx, identity.UserID, call.Arguments)
	metrics.RecordToolCall(call.Name, err, time.Since(start))
	result := mcp.CallToolResult{}
	if err != nil {
		result.IsError = true
		result.Content = []mcp.Content{mcp.TextContent{Type: "text", Text: userFacingMessage(err)}}
	} else {
		result.Content = []mcp.Content{mcp.TextContent{Type: "text", Text: text}}
	}
	resp.Result = result
	return resp
}

func stripBearer(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && authHeader[:len(prefix)] == prefix {
		return authHeader[len(prefix):]
	}
	return authHeader
}
