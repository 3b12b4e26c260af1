package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/todoauth/apiserver/types"
)

// TodoRepository handles persistence for todos.
type TodoRepository struct {
	db *sql.DB
}

func NewTodoRepository(db *sql.DB) *TodoRepository {
	return &TodoRepository{db: db}
}

func (r *TodoRepository) List(ctx context.Context) ([]types.Todo, error) {
	const query = `
		SELECT id, title, completed, created_at, updated_at
		FROM todos
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := make([]types.Todo, 0)
	for rows.Next() {
		var todo types.Todo
		if err := rows.Scan(
			&todo.ID,
			&todo.Title,
			&todo.Completed,
			&todo.CreatedAt,
			&todo.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

func (r *TodoRepository) Get(ctx context.Context, id int) (types.Todo, error) {
	const query = `
		SELECT id, title, completed, created_at, updated_at
		FROM todos
		WHERE id = $1`
	var todo types.Todo
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&todo.ID,
		&todo.Title,
		&todo.Completed,
		&todo.CreatedAt,
		&todo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Todo{}, ErrNotFound
		}
		return types.Todo{}, fmt.Errorf("select todo: %w", err)
	}
	return todo, nil
}

// Create stores todo as given; timestamps are the caller's responsibility.
func (r *TodoRepository) Create(ctx context.Context, todo types.Todo) (types.Todo, error) {
	const query = `
		INSERT INTO todos (title, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		todo.Title,
		todo.Completed,
		todo.CreatedAt,
		todo.UpdatedAt,
	).Scan(&todo.ID); err != nil {
		return types.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	return todo, nil
}
