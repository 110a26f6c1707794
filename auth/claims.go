package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/hazyhaar/pagemark/annotation"
)

// Claims is the JWT payload accepted by the hub. The identity fields become
// the author snapshot of comments written under the token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"` // "reviewer", "viewer"
}

// Author returns the comment author for these claims.
func (c *Claims) Author() annotation.Author {
	name := c.Name
	if name == "" {
		name = c.Handle
	}
	if name == "" {
		name = c.UserID
	}
	return annotation.Author{ID: c.UserID, Name: name}
}

// CanWrite reports whether the token may modify records. Viewers are
// read-only; every other role writes.
func (c *Claims) CanWrite() bool { return c.Role != "viewer" }
