// Package model defines the data structures used throughout the application.
package model

import "time"

// Script is a named program saved by a user.
//
// OwnerID ties every script to exactly one user; all repository lookups are
// scoped by it so one user can never read or modify another's scripts.
type Script struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
