package auth

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
)

// OAuthServer implements the authorization-code + token endpoints this
// system exposes as an OAuth 2.0 provider (spec.md §4.7). It is new work —
// the teacher only verifies externally-issued tokens — built in the gin-
// handler idiom internal/plugin/route/search/search.go establishes.
type OAuthServer struct {
	store     store.Store
	codeTTL   time.Duration
	tokenTTL  time.Duration
	// CurrentUserID resolves the already-authenticated IdP session behind
	// this request (e.g. from a session cookie); the authorize endpoint
	// requires the caller to already be signed in with the identity
	// provider before a consent screen can be shown.
	CurrentUserID func(c *gin.Context) (userID, email string, ok bool)
}

// NewOAuthServer constructs an OAuthServer.
func NewOAuthServer(st store.Store, codeTTL, tokenTTL time.Duration) *OAuthServer {
	return &OAuthServer{store: st, codeTTL: codeTTL, tokenTTL: tokenTTL}
}

// Authorize handles GET /oauth/authorize. On GET with no confirmation it
// renders a minimal consent page; the consent form submits a GET back to
// the same URL with confirm=1, which performs the actual code issuance and
// redirect. Non-validatable errors (unknown client, bad redirect_uri)
// return 4xx JSON rather than a redirect, since redirecting to an
// unverified URI would be an open-redirect vulnerability.
func (s *OAuthServer) Authorize(c *gin.Context) {
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")
	responseType := c.Query("response_type")
	scope := c.Query("scope")
	state := c.Query("state")

	client, err := s.store.GetOAuthClient(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "unknown client_id"})
		return
	}
	if !client.HasRedirectURI(redirectURI) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri is not registered for this client"})
		return
	}
	if responseType != "code" {
		redirectError(c, redirectURI, "unsupported_response_type", state)
		return
	}

	userID, email, ok := s.CurrentUserID(c)
	if !ok {
		// No IdP session: the caller must sign in first. A real deployment
		// redirects to the IdP's sign-in page with a return URL back to
		// this same request; that hop is outside this package's scope.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
		return
	}
	_ = email

	if c.Query("confirm") != "1" {
		s.renderConsent(c, client.Name, scope)
		return
	}

	code, err := secureToken("")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	authCode := &model.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       state,
		ExpiresAt:   time.Now().Add(s.codeTTL),
	}
	if err := s.store.CreateAuthorizationCode(c.Request.Context(), authCode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	dest, _ := url.Parse(redirectURI)
	q := dest.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	dest.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, dest.String())
}

func (s *OAuthServer) renderConsent(c *gin.Context, clientName, scope string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!doctype html><html><body>
<h1>Authorize %s</h1>
<p>This application is requesting access to: %s</p>
<form method="get">
  %s
  <input type="hidden" name="confirm" value="1">
  <button type="submit">Approve</button>
</form>
</body></html>`, html.EscapeString(clientName), html.EscapeString(scope), hiddenFieldsFromQuery(c))
}

func hiddenFieldsFromQuery(c *gin.Context) string {
	var b strings.Builder
	for key, values := range c.Request.URL.Query() {
		if key == "confirm" {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s">`, html.EscapeString(key), html.EscapeString(v))
		}
	}
	return b.String()
}

func redirectError(c *gin.Context, redirectURI, code, state string) {
	dest, err := url.Parse(redirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}
	q := dest.Query()
	q.Set("error", code)
	if state != "" {
		q.Set("state", state)
	}
	dest.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, dest.String())
}

// Token handles POST /oauth/token. Only grant_type=authorization_code is
// supported, per spec.md §4.7.
func (s *OAuthServer) Token(c *gin.Context) {
	grantType := c.PostForm("grant_type")
	code := c.PostForm("code")
	clientID := c.PostForm("client_id")
	clientSecret := c.PostForm("client_secret")
	redirectURI := c.PostForm("redirect_uri")

	if grantType != "authorization_code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	client, err := s.store.GetOAuthClient(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if client == nil || !constantTimeVerify(client.ClientSecretHash, clientSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	// Validate before consuming: a code rejected here for a mismatched
	// client_id/redirect_uri or expiry must remain unused so the legitimate
	// caller can retry with the correct parameters.
	pending, err := s.store.GetAuthorizationCode(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if pending == nil || pending.Used {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "code not found or already used"})
		return
	}
	if pending.ClientID != clientID || pending.RedirectURI != redirectURI {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "client_id or redirect_uri mismatch"})
		return
	}
	if time.Now().After(pending.ExpiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "code expired"})
		return
	}

	authCode, err := s.store.ConsumeAuthorizationCode(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if authCode == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "code not found or already used"})
		return
	}

	plaintext, err := secureToken("mcp_at_")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	at := &model.AccessToken{
		TokenHash: HashToken(plaintext),
		ClientID:  clientID,
		UserID:    authCode.UserID,
		Scope:     authCode.Scope,
		ExpiresAt: time.Now().Add(s.tokenTTL),
	}
	if err := s.store.CreateAccessToken(c.Request.Context(), at); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": plaintext,
		"token_type":   "Bearer",
		"expires_in":   int(s.tokenTTL.Seconds()),
		"scope":        authCode.Scope,
	})
}

// constantTimeVerify compares a bcrypt hash against a candidate secret in
// constant time with respect to the comparison's outcome (bcrypt.
// CompareHashAndPassword is itself constant-time over the hash compare).
func constantTimeVerify(hash, candidate string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// HashClientSecret hashes a newly-registered client's secret for storage.
func HashClientSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(b), err
}
