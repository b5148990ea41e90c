package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/auth"
	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/embedworker"
	"github.com/quillmind/memoryd/internal/memorycore"
	"github.com/quillmind/memoryd/internal/migration"
	"github.com/quillmind/memoryd/internal/rpc"
	"github.com/quillmind/memoryd/internal/store/gormstore"
)

func newTestDispatcher(t *testing.T, authenticator rpc.Authenticator) *rpc.Dispatcher {
	t.Helper()
	ctx := context.Background()

	st, err := gormstore.Open(gormstore.DialectSQLite, ":memory:", 1, 1)
	require.NoError(t, err)
	engine := migration.New(st.DB(), "sqlite")
	require.NoError(t, engine.EnsureTable(ctx))
	require.NoError(t, engine.Up(ctx, 0))

	worker := embedworker.New(st, embed.Disabled{}, embedworker.DefaultConfig())
	core := memorycore.New(st, embed.Disabled{}, worker, config.DefaultConfig())
	return rpc.NewDispatcher(core, authenticator, config.EmbedDisabled)
}

// erroringAuthenticator always fails, to exercise the auth-required path.
type erroringAuthenticator struct{}

func (erroringAuthenticator) Authenticate(context.Context, string) (*auth.Identity, error) {
	return nil, errors.New("nope")
}

func TestHandlePingIsExemptFromAuth(t *testing.T) {
	d := newTestDispatcher(t, erroringAuthenticator{})
	resp := d.Handle(context.Background(), rpc.Request{Method: "ping"}, "")
	assert.Nil(t, resp.Error)
}

func TestHandleInitializeIsExemptFromAuth(t *testing.T) {
	d := newTestDispatcher(t, erroringAuthenticator{})
	resp := d.Handle(context.Background(), rpc.Request{Method: "initialize"}, "")
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestHandleRequiresAuthForEverythingElse(t *testing.T) {
	d := newTestDispatcher(t, erroringAuthenticator{})
	resp := d.Handle(context.Background(), rpc.Request{Method: "tools/list"}, "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeAuthRequired, resp.Error.Code)
}

func TestHandleToolsList(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	resp := d.Handle(context.Background(), rpc.Request{Method: "tools/list"}, "Bearer anything")
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	tools, ok := result["tools"]
	require.True(t, ok)
	assert.NotEmpty(t, tools)
}

func TestHandleUnknownMethodIsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	resp := d.Handle(context.Background(), rpc.Request{Method: "bogus/method"}, "Bearer anything")
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestHandleToolCallStoreThenRecallRoundTrip(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	ctx := context.Background()

	storeParams, err := json.Marshal(map[string]any{
		"name":      "store_memory",
		"arguments": json.RawMessage(`{"title":"t","content":"hello world","mode":"disabled"}`),
	})
	require.NoError(t, err)
	resp := d.Handle(ctx, rpc.Request{Method: "tools/call", Params: storeParams}, "Bearer anything")
	require.Nil(t, resp.Error)

	// Confirm the store succeeded from its textual tool result, then recall
	// with an empty query as the same user and expect the one stored memory
	// back.
	text := firstTextContent(t, resp.Result)
	require.Contains(t, text, "Stored memory")

	listParams, err := json.Marshal(map[string]any{
		"name":      "recall_memories",
		"arguments": json.RawMessage(`{"query":""}`),
	})
	require.NoError(t, err)
	listResp := d.Handle(ctx, rpc.Request{Method: "tools/call", Params: listParams}, "Bearer anything")
	require.Nil(t, listResp.Error)
	listText := firstTextContent(t, listResp.Result)
	assert.Contains(t, listText, "1 result")
}

func TestHandleToolCallUnknownToolNameIsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	params, err := json.Marshal(map[string]any{"name": "no_such_tool", "arguments": json.RawMessage(`{}`)})
	require.NoError(t, err)

	resp := d.Handle(context.Background(), rpc.Request{Method: "tools/call", Params: params}, "Bearer anything")
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestHandleToolCallInvalidParamsIsInvalidRequest(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	resp := d.Handle(context.Background(), rpc.Request{Method: "tools/call", Params: json.RawMessage(`not json`)}, "Bearer anything")
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)
}

func TestHandleAssignsAutoIDWhenMissing(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	resp := d.Handle(context.Background(), rpc.Request{Method: "ping"}, "")
	assert.NotEmpty(t, resp.ID)
}

func firstTextContent(t *testing.T, result any) string {
	t.Helper()
	b, err := json.Marshal(result)
	require.NoError(t, err)
	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(b, &parsed))
	require.NotEmpty(t, parsed.Content)
	return parsed.Content[0].Text
}
