// Package repository declares the storage interfaces the services depend on.
// The sqlite subpackage is the only implementation; tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/pyrelay/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ScriptRepository stores scripts. Every method is scoped by owner ID: a
// script that exists but belongs to someone else is reported as not found.
type ScriptRepository interface {
	Create(ctx context.Context, script *model.Script) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Script, error)
	List(ctx context.Context, ownerID string, opts ListOptions) ([]model.Script, error)
	Update(ctx context.Context, script *model.Script) error
	Delete(ctx context.Context, ownerID, id string) error
}

// UserRepository stores user accounts.
type UserRepository interface {
	// CreateUser inserts a password account. Duplicate email or username
	// returns an apperror.Conflict.
	CreateUser(ctx context.Context, user *model.User) error
	// UpsertGitHub creates or refreshes the account linked to user.GitHubID.
	UpsertGitHub(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}
