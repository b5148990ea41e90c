package rpc_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/auth"
	"github.com/quillmind/memoryd/internal/rpc"
	"github.com/quillmind/memoryd/internal/store"
)

func newTestRouter(t *testing.T, d *rpc.Dispatcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	oauth := auth.NewOAuthServer(nilStore{}, time.Minute, time.Hour)
	rpc.MountRoutes(r, d, oauth)
	return r
}

// nilStore satisfies store.Store for routes that are mounted but not
// exercised by these tests (the OAuth endpoints).
type nilStore struct{ store.Store }

func TestHealthEndpoint(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRPCEndpointRoundTrip(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	r := newTestRouter(t, d)

	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", Method: "ping"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestRPCEndpointMalformedBodyYieldsParseError(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	r := newTestRouter(t, d)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeParseError, resp.Error.Code)
}

func TestAPIMCPAliasRoute(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))
	r := newTestRouter(t, d)

	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", Method: "ping"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
