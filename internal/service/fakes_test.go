package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/model"
	"github.com/sakif/pyrelay/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScriptRepo is an in-memory ScriptRepository with the same owner
// scoping as the SQLite implementation.
type fakeScriptRepo struct {
	mu      sync.Mutex
	scripts map[string]model.Script
	nextID  int
	lastOpt repository.ListOptions
	failErr error
}

func newFakeScriptRepo() *fakeScriptRepo {
	return &fakeScriptRepo{scripts: make(map[string]model.Script)}
}

func (f *fakeScriptRepo) Create(_ context.Context, s *model.Script) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.nextID++
	s.ID = fmt.Sprintf("script-%d", f.nextID)
	f.scripts[s.ID] = *s
	return nil
}

func (f *fakeScriptRepo) GetByID(_ context.Context, ownerID, id string) (*model.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scripts[id]
	if !ok || s.OwnerID != ownerID {
		return nil, apperror.NotFound("script", id)
	}
	return &s, nil
}

func (f *fakeScriptRepo) List(_ context.Context, ownerID string, opts repository.ListOptions) ([]model.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpt = opts
	out := []model.Script{}
	for _, s := range f.scripts {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeScriptRepo) Update(_ context.Context, s *model.Script) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.scripts[s.ID]
	if !ok || old.OwnerID != s.OwnerID {
		return apperror.NotFound("script", s.ID)
	}
	s.CreatedAt = old.CreatedAt
	f.scripts[s.ID] = *s
	return nil
}

func (f *fakeScriptRepo) Delete(_ context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scripts[id]
	if !ok || s.OwnerID != ownerID {
		return apperror.NotFound("script", id)
	}
	delete(f.scripts, id)
	return nil
}

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	getErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return apperror.Conflict("email", "email already registered")
		}
		if existing.Username == u.Username {
			return apperror.Conflict("username", "username already taken")
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) UpsertGitHub(ctx context.Context, u *model.User) error {
	f.mu.Lock()
	for _, existing := range f.users {
		if existing.GitHubID == u.GitHubID {
			existing.AvatarURL = u.AvatarURL
			*u = *existing
			f.mu.Unlock()
			return nil
		}
	}
	f.mu.Unlock()
	return f.CreateUser(ctx, u)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}
