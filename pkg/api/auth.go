package api

import (
	"fmt"
	"strings"
)

// LoginCmd is the admin login request body.
type LoginCmd struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the LoginCmd -> input validation.
func (cmd *LoginCmd) Validate() error {

	if strings.TrimSpace(cmd.Username) == "" {
		return fmt.Errorf("username is required")
	}

	if len(cmd.Username) > 64 {
		return fmt.Errorf("username must be at most 64 chars")
	}

	if cmd.Password == "" {
		return fmt.Errorf("password is required")
	}

	// bcrypt ignores input past 72 bytes
	if len(cmd.Password) > 72 {
		return fmt.Errorf("password must be at most 72 bytes")
	}

	return nil
}

// AuthStatus is the response of the admin session status endpoint.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
}
