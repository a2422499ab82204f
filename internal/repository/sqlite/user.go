package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/model"
	"github.com/sakif/pyrelay/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, github_id, avatar_url, created_at, updated_at`

// CreateUser inserts a password account.
//
// Uniqueness is enforced by the schema, not by a SELECT-then-INSERT, so two
// concurrent registrations for the same email cannot both succeed. The
// constraint failure is translated into apperror.Conflict naming the field.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, github_id, avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		nullableGitHubID(user.GitHubID),
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if col, ok := isUniqueViolation(err); ok {
			return conflictFor(col)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// UpsertGitHub creates or refreshes the account linked to user.GitHubID.
//
// An existing row keeps its internal ID and creation time; only the profile
// fields GitHub owns (avatar, email when we have none) are refreshed. The
// caller's struct is overwritten with the stored record.
func (db *DB) UpsertGitHub(ctx context.Context, user *model.User) error {
	if user.GitHubID == 0 {
		return fmt.Errorf("sqlite: upserting github user: missing github id")
	}

	existing, err := db.getUserWhere(ctx, "github_id = ?", user.GitHubID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	if existing != nil {
		existing.AvatarURL = user.AvatarURL
		if existing.Email == "" {
			existing.Email = strings.ToLower(user.Email)
		}
		existing.UpdatedAt = time.Now().UTC()

		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET email = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
			existing.Email, existing.AvatarURL, existing.UpdatedAt, existing.ID,
		)
		if err != nil {
			if col, ok := isUniqueViolation(err); ok {
				return conflictFor(col)
			}
			return fmt.Errorf("sqlite: updating github user %s: %w", existing.ID, err)
		}
		*user = *existing
		return nil
	}

	// First login. The GitHub login may collide with a password account's
	// username, so fall back to a suffixed name in that case.
	base := user.Username
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			user.Username = fmt.Sprintf("%s-%d", base, user.GitHubID)
		}
		err = db.CreateUser(ctx, user)
		if err == nil {
			return nil
		}
		var appErr *apperror.AppError
		if attempt == 0 && errors.As(err, &appErr) && appErr.Field == "username" {
			continue
		}
		return err
	}
}

// GetUserByID retrieves a user by internal ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := db.getUserWhere(ctx, "id = ?", id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("user", id)
	}
	return u, err
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.NotFound("user", email)
	}
	u, err := db.getUserWhere(ctx, "email = ?", email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("user", email)
	}
	return u, err
}

func (db *DB) getUserWhere(ctx context.Context, where string, arg any) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg,
	).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&githubID,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, fmt.Errorf("sqlite: getting user: %w", err)
	}
	u.GitHubID = githubID.Int64

	return &u, nil
}

// nullableGitHubID stores password-only accounts with NULL so the UNIQUE
// constraint on github_id does not treat them as duplicates of each other.
func nullableGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func conflictFor(column string) error {
	switch column {
	case "users.email":
		return apperror.Conflict("email", "email already registered")
	case "users.username":
		return apperror.Conflict("username", "username already taken")
	case "users.github_id":
		return apperror.Conflict("github_id", "github account already linked")
	default:
		return apperror.Conflict("", "already exists")
	}
}
