package domain

import "time"

// Integration stores a team's connection to a third-party messaging
// provider. Credentials holds the AES-GCM ciphertext of the
// authentication payload submitted on save; plaintext is never stored.
type Integration struct {
	ID          string
	TeamID      int64
	Name        string
	Credentials []byte
	Providers   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
