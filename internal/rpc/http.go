package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quillmind/memoryd/internal/auth"
)

// version is stamped at build time in a real release; a constant here
// matches the teacher's cmd packages where no such pipeline exists yet.
const version = "1.0.0"

// MountRoutes mounts the HTTP transport (spec.md §4.8, §6): POST /rpc and
// its alias POST /api/mcp are the only authenticated routes here — auth is resolved per JSON-RPC call
// inside the dispatcher, not by gin middleware, since ping and the
// protocol handshake are exempt. GET /health and the OAuth endpoints are
// public, matching the teacher's internal/plugin/route/system package's
// "health checks never require auth" convention.
func MountRoutes(r *gin.Engine, d *Dispatcher, oauth *auth.OAuthServer) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	r.POST("/rpc", func(c *gin.Context) {
		handleHTTPRPC(c, d)
	})
	r.POST("/api/mcp", func(c *gin.Context) {
		handleHTTPRPC(c, d)
	})

	r.GET("/oauth/authorize", oauth.Authorize)
	r.POST("/oauth/token", oauth.Token)
}

func handleHTTPRPC(c *gin.Context, d *Dispatcher) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, Response{
			JSONRPC: "2.0",
			ID:      d.nextAutoID(),
			Error:   &RPCError{Code: CodeParseError, Message: "Parse error"},
		})
		return
	}
	resp := d.Handle(c.Request.Context(), req, c.GetHeader("Authorization"))
	c.JSON(http.StatusOK, resp)
}
