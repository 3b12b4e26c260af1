package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/todoauth/apiserver/internal/auth"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextClaimsKey contextKey = "claims"

func withClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, contextClaimsKey, claims)
}

// IdentityFromContext returns the claims RequireAuth attached to the request.
func IdentityFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(auth.Claims)
	return claims, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a simple success payload.
type MessageResponse struct {
	Message string `json:"message"`
}
