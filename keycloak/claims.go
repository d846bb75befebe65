package keycloak

import (
	"encoding/json"
	"math"
	"time"
)

// Claims is the claim set of a verified token, a userinfo response or an
// introspection response, keyed by claim name.
type Claims map[string]interface{}

// String returns a string claim, or "" when it is absent or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns the sub claim
func (c Claims) Subject() string {
	return c.String("sub")
}

// PreferredUsername returns the preferred_username claim
func (c Claims) PreferredUsername() string {
	return c.String("preferred_username")
}

// Audience returns the aud claim, which may be a single string or a list.
func (c Claims) Audience() []string {
	switch aud := c["aud"].(type) {
	case string:
		return []string{aud}
	case []string:
		return aud
	case []interface{}:
		out := make([]string, 0, len(aud))
		for _, v := range aud {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// HasAudience reports whether clientID is one of the token audiences.
func (c Claims) HasAudience(clientID string) bool {
	for _, aud := range c.Audience() {
		if aud == clientID {
			return true
		}
	}
	return false
}

// Time returns a NumericDate claim such as exp or iat.
func (c Claims) Time(name string) (time.Time, bool) {
	var secs float64
	switch v := c[name].(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// ExpiresAt returns the exp claim
func (c Claims) ExpiresAt() (time.Time, bool) {
	return c.Time("exp")
}

// Active returns the active flag of an introspection response.
func (c Claims) Active() bool {
	active, _ := c["active"].(bool)
	return active
}
