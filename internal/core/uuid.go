package core

import "github.com/google/uuid"

// NewJobID generates a time-ordered job identifier (UUIDv7).
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValidJobID checks if a string is a valid UUID (any version).
func IsValidJobID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
