package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/internal/store"
	"github.com/todoauth/apiserver/types"
)

const (
	EventTodoCreated = "todo.created"

	// MinTitleLength is the shortest accepted title, in characters.
	MinTitleLength = 3
)

// TodoRepository defines persistence operations for todos.
type TodoRepository interface {
	List(ctx context.Context) ([]types.Todo, error)
	Get(ctx context.Context, id int) (types.Todo, error)
	Create(ctx context.Context, todo types.Todo) (types.Todo, error)
}

// TodoService encapsulates todo use-cases.
type TodoService struct {
	repo   TodoRepository
	events EventPublisher
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewTodoService(repo TodoRepository, events EventPublisher, logger logrus.FieldLogger) *TodoService {
	return &TodoService{
		repo:   repo,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

func (s *TodoService) List(ctx context.Context) ([]types.Todo, error) {
	todos, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	if todos == nil {
		todos = []types.Todo{}
	}
	return todos, nil
}

func (s *TodoService) Get(ctx context.Context, id int) (types.Todo, error) {
	todo, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Todo{}, ErrTodoNotFound
		}
		return types.Todo{}, fmt.Errorf("get todo %d: %w", id, err)
	}
	return todo, nil
}

// Create validates title and stores a new, not yet completed todo.
func (s *TodoService) Create(ctx context.Context, title string) (types.Todo, error) {
	if utf8.RuneCountInString(title) < MinTitleLength {
		return types.Todo{}, validationError(fmt.Sprintf("title must be at least %d characters", MinTitleLength))
	}

	now := s.now().UTC()
	todo, err := s.repo.Create(ctx, types.Todo{
		Title:     title,
		Completed: false,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return types.Todo{}, fmt.Errorf("create todo: %w", err)
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, EventTodoCreated, todo); err != nil {
			s.logger.WithError(err).WithField("todo_id", todo.ID).Warn("failed to publish event")
		}
	}
	return todo, nil
}
