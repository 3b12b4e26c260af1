package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/todoauth/apiserver/internal/auth"
	"github.com/todoauth/apiserver/internal/logging"
	"github.com/todoauth/apiserver/internal/metrics"
	"github.com/todoauth/apiserver/internal/services"
	"github.com/todoauth/apiserver/internal/store"
	"github.com/todoauth/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "handler-secret"

type testEnv struct {
	router  chi.Router
	tokens  *auth.TokenManager
	hasher  *auth.PasswordHasher
	users   *store.MemoryUserRepository
	todos   *store.MemoryTodoRepository
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenManager([]byte(testSecret), time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		tokens:  tokens,
		hasher:  auth.NewPasswordHasher(bcrypt.MinCost),
		users:   store.NewMemoryUserRepository(),
		todos:   store.NewMemoryTodoRepository(),
		metrics: metrics.New(),
	}
	logger := logging.Discard()

	authService := services.NewAuthService(env.users, env.hasher, tokens, nil, logger)
	todoHandler := NewTodoHandler(services.NewTodoService(env.todos, nil, logger), logger)
	requireAuth := RequireAuth(tokens, logger, env.metrics)

	r := chi.NewRouter()
	r.Get("/healthz", Healthz(nil, logger))
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, NewAuthHandler(authService, tokens.TTL(), logger, env.metrics), requireAuth)
		})
		r.Route("/todos", func(r chi.Router) {
			r.Use(requireAuth)
			TodoRouter(r, todoHandler)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, RequireRole(types.RoleAdmin))
			AdminRouter(r, todoHandler)
		})
	})
	env.router = r
	return env
}

func (e *testEnv) tokenFor(t *testing.T, userID int, role string) string {
	t.Helper()
	token, err := e.tokens.Issue(userID, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return e.doRequest(t, newRequest(t, method, path, body, cookies...))
}

func (e *testEnv) doRequest(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func newRequest(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func jwtCookie(token string) *http.Cookie {
	return &http.Cookie{Name: CookieName, Value: token}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}
