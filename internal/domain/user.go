package domain

import "time"

// User represents a platform account. TeamID is nil until the user
// creates or joins a team.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	TeamID       *int64
	CreatedAt    time.Time
}
