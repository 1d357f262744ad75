package domain

import "time"

// User represents a resource owner that can authenticate against the provider.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
