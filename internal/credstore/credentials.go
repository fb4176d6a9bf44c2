package credstore

import "time"

// Credentials is the persisted credential record for one connector.
type Credentials struct {
	ConnectorID string            `json:"connector_id"`
	Credentials map[string]string `json:"credentials"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsed    *time.Time        `json:"last_used"`
}

// IsExpired reports whether the credentials carry an expiry in the past.
// Credentials without an expiry never expire.
func (c *Credentials) IsExpired() bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Get returns a credential field value, or "" when absent.
func (c *Credentials) Get(key string) string {
	if c == nil || c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}
