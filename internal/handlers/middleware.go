package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/todoauth/apiserver/internal/auth"
	"github.com/todoauth/apiserver/internal/metrics"
)

// CookieName is the cookie carrying the session token.
const CookieName = "jwt"

var errMissingToken = errors.New("missing token")

// TokenVerifier checks a token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// RequireAuth rejects requests without a valid token and attaches the
// verified claims to the request context. The token is read from the jwt
// cookie, then from an Authorization bearer header.
func RequireAuth(tokens TokenVerifier, logger logrus.FieldLogger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := tokenFromRequest(r)
			if err == nil {
				var claims auth.Claims
				claims, err = tokens.Verify(tokenString)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
					return
				}
			}

			reason := rejectionReason(err)
			m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
			logger.WithError(err).WithFields(logrus.Fields{
				"reason": reason,
				"path":   r.URL.Path,
			}).Debug("request rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// RequireRole allows only identities whose role equals role. It must run
// after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) (string, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errMissingToken):
		return "missing_token"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
