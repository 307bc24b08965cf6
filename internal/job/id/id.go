// Package id generates unit identifiers.
package id

import "github.com/google/uuid"

const prefix = "unit-"

// Generate returns a unit ID built on a UUIDv7, so IDs sort by creation time.
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + u.String()
}
