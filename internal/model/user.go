package model

import "time"

// User is a registered account.
//
// An account is created either by email/password registration or by the
// first GitHub login. PasswordHash is empty for GitHub-only accounts and
// GitHubID is zero for password-only accounts.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // bcrypt; never serialised
	GitHubID     int64     `json:"githubId,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
