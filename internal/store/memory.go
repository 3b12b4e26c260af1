package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/todoauth/apiserver/types"
)

// MemoryUserRepository is a process-local UserRepository used by tests and
// the server's in-memory mode.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	nextID  int
	byID    map[int]types.User
	byEmail map[string]int
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		nextID:  1,
		byID:    make(map[int]types.User),
		byEmail: make(map[string]int),
	}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrDuplicate
	}

	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.nextID++

	r.byID[user.ID] = user
	r.byEmail[user.Email] = user.ID
	return user, nil
}

// MemoryTodoRepository is a process-local TodoRepository.
type MemoryTodoRepository struct {
	mu     sync.RWMutex
	nextID int
	todos  map[int]types.Todo
}

func NewMemoryTodoRepository() *MemoryTodoRepository {
	return &MemoryTodoRepository{
		nextID: 1,
		todos:  make(map[int]types.Todo),
	}
}

func (r *MemoryTodoRepository) List(ctx context.Context) ([]types.Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	todos := make([]types.Todo, 0, len(r.todos))
	for _, todo := range r.todos {
		todos = append(todos, todo)
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID < todos[j].ID })
	return todos, nil
}

func (r *MemoryTodoRepository) Get(ctx context.Context, id int) (types.Todo, error) {
	if err := ctx.Err(); err != nil {
		return types.Todo{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	todo, ok := r.todos[id]
	if !ok {
		return types.Todo{}, ErrNotFound
	}
	return todo, nil
}

func (r *MemoryTodoRepository) Create(ctx context.Context, todo types.Todo) (types.Todo, error) {
	if err := ctx.Err(); err != nil {
		return types.Todo{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	todo.ID = r.nextID
	r.nextID++
	r.todos[todo.ID] = todo
	return todo, nil
}
