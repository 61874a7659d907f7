// Package id provides unique identifier generation for processing sessions.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique session ID.
// Format: a random (version 4) UUID in canonical form.
// Example: 6f1c2a9e-4b7d-4e21-9a3f-0c8d5e7b1a24
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s is a session ID produced by Generate.
func Valid(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.String() == s
}
