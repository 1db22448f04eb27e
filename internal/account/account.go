// Package account resolves the user sessions are attributed to.
package account

import "context"

// Static is a profile with a fixed user, taken from configuration
type Static struct {
	UserID string
}

// ActiveUserID returns the configured user id, empty when signed out
func (s Static) ActiveUserID(context.Context) (string, error) {
	return s.UserID, nil
}
