package model

import "time"

// OAuthClient is registered out-of-band (spec.md §3).
type OAuthClient struct {
	ClientID         string    `json:"clientId" gorm:"primaryKey"`
	ClientSecretHash string    `json:"-"        gorm:"not null"`
	Name             string    `json:"name"`
	RedirectURIs     StringSet `json:"redirectUris"  gorm:"serializer:json"`
	AllowedScopes    StringSet `json:"allowedScopes" gorm:"serializer:json"`
	CreatedAt        time.Time `json:"createdAt" gorm:"not null"`
}

func (OAuthClient) TableName() string { return "oauth_clients" }

// HasRedirectURI reports whether uri is registered exactly (no wildcards,
// per spec.md §4.7).
func (c *OAuthClient) HasRedirectURI(uri string) bool {
	return c.RedirectURIs.Contains(uri)
}

// AuthorizationCode is an ephemeral, single-use credential (spec.md §3).
type AuthorizationCode struct {
	Code        string    `json:"-" gorm:"primaryKey"`
	ClientID    string    `json:"clientId"    gorm:"not null;index"`
	UserID      string    `json:"userId"      gorm:"not null"`
	RedirectURI string    `json:"redirectUri" gorm:"not null"`
	Scope       string    `json:"scope"`
	State       string    `json:"state"`
	ExpiresAt   time.Time `json:"expiresAt" gorm:"not null"`
	Used        bool      `json:"used"      gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null"`
}

func (AuthorizationCode) TableName() string { return "oauth_authorization_codes" }

// AccessToken is a bearer credential issued by this system's OAuth broker
// (spec.md §3). The TokenHash field holds the token's hash, never the
// plaintext value — the plaintext is returned once at issuance time and
// never persisted.
type AccessToken struct {
	TokenHash string    `json:"-" gorm:"primaryKey;column:token_hash"`
	ClientID  string    `json:"clientId" gorm:"not null;index"`
	UserID    string    `json:"userId"   gorm:"not null;index"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null"`
	Revoked   bool      `json:"revoked"   gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (AccessToken) TableName() string { return "oauth_tokens" }
