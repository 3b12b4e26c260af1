package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todoauth/apiserver/internal/logging"
	"github.com/todoauth/apiserver/internal/store"
	"github.com/todoauth/apiserver/types"
)

type brokenTodos struct {
	err error
}

func (b brokenTodos) List(context.Context) ([]types.Todo, error) { return nil, b.err }

func (b brokenTodos) Get(context.Context, int) (types.Todo, error) { return types.Todo{}, b.err }

func (b brokenTodos) Create(context.Context, types.Todo) (types.Todo, error) {
	return types.Todo{}, b.err
}

func TestTodoService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	events := &fakePublisher{}
	svc := NewTodoService(store.NewMemoryTodoRepository(), events, logging.Discard())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	todo, err := svc.Create(ctx, "Buy milk")
	require.NoError(t, err)
	assert.Equal(t, 1, todo.ID)
	assert.Equal(t, "Buy milk", todo.Title)
	assert.False(t, todo.Completed)
	assert.True(t, todo.CreatedAt.Equal(fixed))
	assert.True(t, todo.UpdatedAt.Equal(fixed))

	got, err := svc.Get(ctx, todo.ID)
	require.NoError(t, err)
	assert.Equal(t, todo, got)

	require.Len(t, events.events, 1)
	assert.Equal(t, EventTodoCreated, events.events[0].eventType)
}

func TestTodoService_TitleLength(t *testing.T) {
	svc := NewTodoService(store.NewMemoryTodoRepository(), nil, logging.Discard())

	tests := []struct {
		title string
		ok    bool
	}{
		{title: "", ok: false},
		{title: "ab", ok: false},
		{title: "abc", ok: true},
		{title: "żółw", ok: true},
		{title: "日本", ok: false},
	}
	for _, tt := range tests {
		_, err := svc.Create(context.Background(), tt.title)
		if tt.ok {
			assert.NoError(t, err, tt.title)
			continue
		}
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr, tt.title)
	}
}

func TestTodoService_List(t *testing.T) {
	ctx := context.Background()
	svc := NewTodoService(store.NewMemoryTodoRepository(), nil, logging.Discard())

	todos, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, todos)
	assert.Empty(t, todos)

	for _, title := range []string{"first", "second", "third"} {
		_, err := svc.Create(ctx, title)
		require.NoError(t, err)
	}

	todos, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{todos[0].ID, todos[1].ID, todos[2].ID})
}

func TestTodoService_GetMissing(t *testing.T) {
	svc := NewTodoService(store.NewMemoryTodoRepository(), nil, logging.Discard())
	_, err := svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrTodoNotFound)
}

func TestTodoService_StoreErrors(t *testing.T) {
	boom := errors.New("db gone")
	svc := NewTodoService(brokenTodos{err: boom}, nil, logging.Discard())

	_, err := svc.List(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = svc.Get(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTodoNotFound)

	_, err = svc.Create(context.Background(), "valid title")
	assert.ErrorIs(t, err, boom)
}

func TestTodoService_CreateSurvivesPublishFailure(t *testing.T) {
	svc := NewTodoService(store.NewMemoryTodoRepository(), &fakePublisher{err: errors.New("broker down")}, logging.Discard())
	todo, err := svc.Create(context.Background(), "Buy milk")
	require.NoError(t, err)
	assert.Equal(t, 1, todo.ID)
}
