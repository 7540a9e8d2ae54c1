package models

import (
	"time"
)

// Credentials is the OAuth bundle for one provider account. It is only ever
// persisted encrypted and never serialized to API responses or logs.
type Credentials struct {
	ClientID     string    `json:"client_id" validate:"required"`
	ClientSecret string    `json:"client_secret" validate:"required"`
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry" validate:"required"`
	Scopes       []string  `json:"scopes,omitempty"`
	InstanceURL  string    `json:"instance_url,omitempty" validate:"omitempty,url"`
}

// String keeps secrets out of %v and %s formatting.
func (c Credentials) String() string {
	return "Credentials{" + c.Redacted().ClientID + "}"
}

// Clone returns a deep copy.
func (c Credentials) Clone() Credentials {
	out := c
	if c.Scopes != nil {
		out.Scopes = append([]string(nil), c.Scopes...)
	}
	return out
}

// IsLive reports whether the access token can be used at now without a refresh.
func (c Credentials) IsLive(now time.Time, skew time.Duration) bool {
	if c.ClientID == "" || c.ClientSecret == "" || c.AccessToken == "" || c.TokenExpiry.IsZero() {
		return false
	}
	return c.TokenExpiry.After(now.Add(skew))
}

// RedactedCredentials is the outward-safe view of Credentials.
type RedactedCredentials struct {
	ClientID        string    `json:"client_id"`
	TokenExpiry     time.Time `json:"token_expiry"`
	Scopes          []string  `json:"scopes,omitempty"`
	InstanceURL     string    `json:"instance_url,omitempty"`
	HasRefreshToken bool      `json:"has_refresh_token"`
}

func (c Credentials) Redacted() RedactedCredentials {
	clientID := c.ClientID
	if len(clientID) > 4 {
		clientID = clientID[:4] + "****"
	} else if clientID != "" {
		clientID = "****"
	}
	return RedactedCredentials{
		ClientID:        clientID,
		TokenExpiry:     c.TokenExpiry,
		Scopes:          c.Scopes,
		InstanceURL:     c.InstanceURL,
		HasRefreshToken: c.RefreshToken != "",
	}
}

// CredentialsPatch carries a partial credential update. Nil fields keep the
// existing value.
type CredentialsPatch struct {
	ClientID     *string    `json:"client_id,omitempty"`
	ClientSecret *string    `json:"client_secret,omitempty"`
	AccessToken  *string    `json:"access_token,omitempty"`
	RefreshToken *string    `json:"refresh_token,omitempty"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	InstanceURL  *string    `json:"instance_url,omitempty"`
}

// MergeOnto returns base with the patch applied; base is not modified.
func (p CredentialsPatch) MergeOnto(base Credentials) Credentials {
	out := base.Clone()
	if p.ClientID != nil {
		out.ClientID = *p.ClientID
	}
	if p.ClientSecret != nil {
		out.ClientSecret = *p.ClientSecret
	}
	if p.AccessToken != nil {
		out.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		out.RefreshToken = *p.RefreshToken
	}
	if p.TokenExpiry != nil {
		out.TokenExpiry = *p.TokenExpiry
	}
	if p.Scopes != nil {
		out.Scopes = append([]string(nil), p.Scopes...)
	}
	if p.InstanceURL != nil {
		out.InstanceURL = *p.InstanceURL
	}
	return out
}
