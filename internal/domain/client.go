package domain

import "time"

// Client is a registered OAuth client allowed to request authorization codes.
type Client struct {
	ID        string
	Name      string
	Secret    string
	CreatedAt time.Time
}
