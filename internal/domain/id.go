package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for upload runs and other locally owned
// entities. UUIDv7 ids sort by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
