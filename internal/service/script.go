// Package service holds the business rules that sit between the HTTP
// handlers and the repositories:
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, enforces ownership, logs business events
//	Repository      → reads/writes SQLite
//
// Services accept plain Go values and return apperror values; they never see
// an *http.Request, so the CLI and tests call them directly.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/model"
	"github.com/sakif/pyrelay/internal/repository"
)

const (
	MaxTitleLength   = 100
	MaxContentLength = 100_000 // bytes
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ScriptService manages saved scripts. Every operation takes the caller's
// user ID; the repository scopes all reads and writes by it.
type ScriptService struct {
	repo   repository.ScriptRepository
	logger *slog.Logger
}

func NewScriptService(repo repository.ScriptRepository, logger *slog.Logger) *ScriptService {
	return &ScriptService{
		repo:   repo,
		logger: logger,
	}
}

// Create validates and stores a new script for ownerID.
func (s *ScriptService) Create(ctx context.Context, ownerID, title, content string) (*model.Script, error) {
	title, err := validateScript(title, content)
	if err != nil {
		return nil, err
	}

	script := &model.Script{
		OwnerID: ownerID,
		Title:   title,
		Content: content,
	}
	if err := s.repo.Create(ctx, script); err != nil {
		s.logger.Error("failed to create script",
			slog.String("owner", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating script: %w", err)
	}

	s.logger.Info("script created",
		slog.String("id", script.ID),
		slog.String("owner", ownerID),
	)
	return script, nil
}

// Get returns one of the owner's scripts.
func (s *ScriptService) Get(ctx context.Context, ownerID, id string) (*model.Script, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "script ID is required")
	}
	return s.repo.GetByID(ctx, ownerID, id)
}

// List returns the owner's scripts, newest first. limit is clamped to
// [1, MaxListLimit] with DefaultListLimit for zero or negative values.
func (s *ScriptService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Script, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	scripts, err := s.repo.List(ctx, ownerID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	return scripts, nil
}

// Update replaces title and content of one of the owner's scripts. Unlike a
// partial patch, both fields are required; the editor always sends both.
func (s *ScriptService) Update(ctx context.Context, ownerID, id, title, content string) (*model.Script, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "script ID is required")
	}
	title, err := validateScript(title, content)
	if err != nil {
		return nil, err
	}

	script := &model.Script{
		ID:      id,
		OwnerID: ownerID,
		Title:   title,
		Content: content,
	}
	if err := s.repo.Update(ctx, script); err != nil {
		return nil, err
	}

	s.logger.Info("script updated", slog.String("id", id))
	return script, nil
}

// Delete removes one of the owner's scripts.
func (s *ScriptService) Delete(ctx context.Context, ownerID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "script ID is required")
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}

	s.logger.Info("script deleted", slog.String("id", id))
	return nil
}

// validateScript trims and checks the title and checks content size. It
// returns the trimmed title.
func validateScript(title, content string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperror.ValidationFailed("title", "title is required")
	}
	if len(title) > MaxTitleLength {
		return "", apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if len(content) > MaxContentLength {
		return "", apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d bytes or less", MaxContentLength))
	}
	return title, nil
}
