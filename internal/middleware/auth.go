package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator verifies bearer tokens and resolves the caller's internal
// identity. Token issuance lives upstream; this middleware consumes the
// verified (email, role) pair and maps it to a user id, which is then passed
// explicitly into every authorization call.
type Authenticator struct {
	secret []byte
	users  repository.UserStore
}

// NewAuthenticator creates an authenticator with the shared signing secret.
func NewAuthenticator(secret string, users repository.UserStore) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Middleware rejects requests without a valid token and injects the resolved
// Identity into the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims := &models.JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			log.Warn().Err(err).Msg("Invalid bearer token")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		role, ok := models.ParseRole(claims.Role)
		if !ok {
			log.Warn().Str("role", claims.Role).Msg("Token carries unknown role")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := a.users.GetByEmail(r.Context(), claims.Email)
		if err != nil {
			log.Warn().Err(err).Str("email", claims.Email).Msg("Token subject not found")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if !user.IsActive {
			http.Error(w, "Account disabled", http.StatusForbidden)
			return
		}

		identity := models.Identity{
			UserID: user.ID,
			Email:  user.Email,
			Role:   role,
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the caller identity from context.
func GetIdentity(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity. Test helper.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// RequireRole denies callers whose role is not in the allowed set.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}
