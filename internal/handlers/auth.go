package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/internal/metrics"
	"github.com/todoauth/apiserver/internal/services"
)

// AuthHandler provides registration, login and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
	tokenTTL    time.Duration
	logger      logrus.FieldLogger
	metrics     *metrics.Metrics
}

// NewAuthHandler constructs an AuthHandler. tokenTTL sets the cookie lifetime
// and should match the token issuer's TTL.
func NewAuthHandler(authService *services.AuthService, tokenTTL time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
		logger:      logger,
		metrics:     m,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(authMiddleware).Get("/me", handler.Me)
}

// Register creates a new user account with the default role.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authService.Register(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		var vErr *services.ValidationError
		switch {
		case errors.As(err, &vErr):
			h.metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, vErr.Message)
		case errors.Is(err, services.ErrDuplicateEmail):
			h.metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			writeError(w, http.StatusBadRequest, "email already registered")
		default:
			h.metrics.RegistrationsTotal.WithLabelValues("error").Inc()
			h.logger.WithError(err).Error("registration failed")
			writeError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	h.metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials and stores the token in the jwt cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := h.authService.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			h.metrics.LoginAttemptsTotal.WithLabelValues("unknown_user").Inc()
			h.logger.WithField("reason", "unknown_user").Info("login rejected")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, services.ErrBadCredentials):
			h.metrics.LoginAttemptsTotal.WithLabelValues("bad_password").Inc()
			h.logger.WithField("reason", "bad_password").Info("login rejected")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
			h.logger.WithError(err).Error("login failed")
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}

	h.metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Message: "login successful"})
}

// Logout expires the jwt cookie. Issued tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.WithError(err).Error("failed to load current user")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
