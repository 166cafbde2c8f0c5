package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/taskflow-auth/internal/domain"
)

// MemoryUserRepository keeps accounts in process memory. It backs local runs
// without a database and the service tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryUserRepository returns an empty in-memory repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*domain.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return ErrUserExists
		}
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	for id, other := range r.users {
		if id != user.ID && strings.EqualFold(other.Email, user.Email) {
			return ErrUserExists
		}
	}
	user.Username = existing.Username
	user.FailedLoginAttempts = existing.FailedLoginAttempts
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.FailedLoginAttempts++
	user.UpdatedAt = time.Now().UTC()
	return user.FailedLoginAttempts, nil
}

func (r *MemoryUserRepository) ResetFailedLogins(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if user.FailedLoginAttempts != 0 {
		user.FailedLoginAttempts = 0
		user.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	found := *user
	return &found, nil
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Username == username && !user.Deleted {
			found := *user
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryUserRepository) GetByEmailOrUsername(ctx context.Context, identifier string) (*domain.User, error) {
	if user, err := r.GetByUsername(ctx, identifier); err == nil {
		return user, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Email, identifier) && !user.Deleted {
			found := *user
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}
