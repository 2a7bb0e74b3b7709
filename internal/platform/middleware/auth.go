package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/auth"
)

const bearerPrefix = "bearer "

// Claims is the JWT payload issued by the identity service: subject is the
// user id, plus role and department.
type Claims struct {
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
	jwt.RegisteredClaims
}

// Auth validates an HS256 bearer token and stores the actor in the context.
func Auth(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			raw := strings.TrimSpace(h[len(bearerPrefix):])

			var claims Claims
			token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if strings.TrimSpace(claims.Subject) == "" || claims.Role == "" {
				writeJSONError(w, http.StatusUnauthorized, "token missing subject or role")
				return
			}

			ctx := auth.WithActor(r.Context(), auth.Actor{
				UserID:       claims.Subject,
				Role:         claims.Role,
				DepartmentID: claims.DepartmentID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects actors that hold none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := auth.GetActor(r.Context())
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !actor.HasRole(roles...) {
				writeJSONError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a token. Used by tests and local tooling; production
// tokens come from the identity service.
func IssueToken(secret []byte, actor auth.Actor, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := &Claims{
		Role:         actor.Role,
		DepartmentID: actor.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
