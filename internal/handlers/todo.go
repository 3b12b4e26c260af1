package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/internal/services"
)

// TodoHandler provides HTTP handlers for todos.
type TodoHandler struct {
	todoService *services.TodoService
	logger      logrus.FieldLogger
}

func NewTodoHandler(todoService *services.TodoService, logger logrus.FieldLogger) *TodoHandler {
	return &TodoHandler{todoService: todoService, logger: logger}
}

// TodoRouter registers the read routes. Callers mount it behind RequireAuth.
func TodoRouter(r chi.Router, handler *TodoHandler) {
	r.Get("/", handler.ListTodos)
	r.Get("/{todoID}", handler.GetTodo)
}

// AdminRouter registers the admin-only routes. Callers mount it behind
// RequireAuth and RequireRole(types.RoleAdmin).
func AdminRouter(r chi.Router, handler *TodoHandler) {
	r.Post("/todos", handler.CreateTodo)
}

func (h *TodoHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := h.todoService.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list todos")
		writeError(w, http.StatusInternalServerError, "failed to list todos")
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (h *TodoHandler) GetTodo(w http.ResponseWriter, r *http.Request) {
	id, err := parseTodoID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Ids are serial; zero and negatives name no row.
	if id < 1 {
		writeError(w, http.StatusNotFound, "todo not found")
		return
	}

	todo, err := h.todoService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTodoNotFound) {
			writeError(w, http.StatusNotFound, "todo not found")
			return
		}
		h.logger.WithError(err).WithField("todo_id", id).Error("failed to fetch todo")
		writeError(w, http.StatusInternalServerError, "failed to fetch todo")
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

func (h *TodoHandler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	var req CreateTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	todo, err := h.todoService.Create(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		h.logger.WithError(err).Error("failed to create todo")
		writeError(w, http.StatusInternalServerError, "failed to create todo")
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

type CreateTodoRequest struct {
	Title string `json:"title"`
}

func parseTodoID(r *http.Request) (int, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "todoID"), 10, 32)
	if err != nil {
		return 0, errors.New("invalid todo id")
	}
	return int(id), nil
}
