package accounts

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/leofalp/aimux/internal/utils"
)

// AuthType is how an account authenticates.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeOAuth  AuthType = "oauth"
)

// Status is the derived health of an account's credential.
type Status string

const (
	StatusActive            Status = "active"
	StatusExpired           Status = "expired"
	StatusMissingCredential Status = "missing_credential"
)

// Account is the non-secret record of one credential. Secrets live in the
// store under their own key and are never part of an Account.
type Account struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	DisplayName string    `json:"displayName"`
	AuthType    AuthType  `json:"authType"`
	Email       string    `json:"email,omitempty"`
	IsDefault   bool      `json:"isDefault"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Credential is either an API key or an OAuth token pair.
type Credential struct {
	APIKey       string     `json:"apiKey,omitempty"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// AuthType infers the account type from which fields are set.
func (c *Credential) AuthType() AuthType {
	if c.APIKey == "" && c.AccessToken != "" {
		return AuthTypeOAuth
	}
	return AuthTypeAPIKey
}

// Secret returns the value sent to the vendor: the API key or access token.
func (c *Credential) Secret() string {
	if c == nil {
		return ""
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.AccessToken
}

// Empty reports whether the credential carries no secret at all.
func (c *Credential) Empty() bool {
	return c == nil || strings.TrimSpace(c.Secret()) == ""
}

// Fingerprint is a truncated SHA-256 of the secret, safe to log and compare.
func (c *Credential) Fingerprint() string {
	return utils.ShortHash(c.Secret())
}

// Expiry returns when the credential stops working. An explicit ExpiresAt
// wins; otherwise a JWT access token's exp claim is read without verifying
// the signature, which only the vendor can do.
func (c *Credential) Expiry() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	if c.ExpiresAt != nil {
		return *c.ExpiresAt, true
	}
	if c.AccessToken == "" || strings.Count(c.AccessToken, ".") != 2 {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(c.AccessToken, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// statusAt derives the status of a credential at now.
func (c *Credential) statusAt(now time.Time) Status {
	if c.Empty() {
		return StatusMissingCredential
	}
	if expiry, ok := c.Expiry(); ok && !now.Before(expiry) {
		return StatusExpired
	}
	return StatusActive
}

// EventType names an account lifecycle change.
type EventType string

const (
	EventAdded    EventType = "added"
	EventUpdated  EventType = "updated"
	EventRemoved  EventType = "removed"
	EventSwitched EventType = "switched"
)

// Event is delivered to listeners after the change is persisted.
type Event struct {
	Provider  string
	AccountID string
	Type      EventType
}

// Listener receives account events. Delivery is at-least-once and unordered
// across listeners, so listeners must be idempotent.
type Listener func(Event)

// AccountUpdate holds optional changes; nil fields are left alone.
type AccountUpdate struct {
	DisplayName *string
	Email       *string
	Credential  *Credential
}

// AccountOption customizes a new account.
type AccountOption func(*Account)

// WithEmail records the email an OAuth login belongs to.
func WithEmail(email string) AccountOption {
	return func(a *Account) {
		a.Email = email
	}
}
