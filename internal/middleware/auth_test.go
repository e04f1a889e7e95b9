package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/careconnectpt/link-service/internal/middleware"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret, email, role string) string {
	t.Helper()

	claims := models.JWTClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func authTestServer(t *testing.T, users *repository.MemoryUserStore) (http.Handler, *models.Identity) {
	t.Helper()

	auth := middleware.NewAuthenticator(testSecret, users)
	var captured models.Identity

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r.Context())
		if !ok {
			t.Error("expected identity in context")
		}
		captured = id
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &captured
}

func TestAuthMiddlewareResolvesIdentity(t *testing.T) {
	userID := uuid.New()
	users := repository.NewMemoryUserStore(
		models.User{ID: userID, Email: "carer@example.com", Role: models.RoleCaregiver, IsActive: true},
	)
	handler, captured := authTestServer(t, users)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "carer@example.com", "CAREGIVER"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if captured.UserID != userID {
		t.Errorf("expected resolved user id %s, got %s", userID, captured.UserID)
	}
	if captured.Role != models.RoleCaregiver {
		t.Errorf("expected CAREGIVER, got %s", captured.Role)
	}
}

func TestAuthMiddlewareRejections(t *testing.T) {
	users := repository.NewMemoryUserStore(
		models.User{ID: uuid.New(), Email: "carer@example.com", Role: models.RoleCaregiver, IsActive: true},
		models.User{ID: uuid.New(), Email: "disabled@example.com", Role: models.RoleCaregiver, IsActive: false},
	)
	handler, _ := authTestServer(t, users)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", "carer@example.com", "CAREGIVER"), http.StatusUnauthorized},
		{"unknown role", "Bearer " + signToken(t, testSecret, "carer@example.com", "SUPERUSER"), http.StatusUnauthorized},
		{"unknown subject", "Bearer " + signToken(t, testSecret, "ghost@example.com", "CAREGIVER"), http.StatusUnauthorized},
		{"disabled account", "Bearer " + signToken(t, testSecret, "disabled@example.com", "CAREGIVER"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	users := repository.NewMemoryUserStore(
		models.User{ID: uuid.New(), Email: "carer@example.com", Role: models.RoleCaregiver, IsActive: true},
	)
	handler, _ := authTestServer(t, users)

	claims := models.JWTClaims{
		Email: "carer@example.com",
		Role:  "CAREGIVER",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := middleware.RequireRole(models.RoleAdmin, models.RoleCaregiver)(next)

	tests := []struct {
		name string
		role models.Role
		want int
	}{
		{"admin allowed", models.RoleAdmin, http.StatusOK},
		{"caregiver allowed", models.RoleCaregiver, http.StatusOK},
		{"patient denied", models.RolePatient, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(middleware.WithIdentity(req.Context(), models.Identity{UserID: uuid.New(), Role: tt.role}))
			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		guard.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}
