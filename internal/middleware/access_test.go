package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/careconnectpt/link-service/internal/middleware"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/careconnectpt/link-service/internal/notify"
	"github.com/careconnectpt/link-service/internal/repository"
	"github.com/careconnectpt/link-service/internal/services"
	"github.com/careconnectpt/link-service/pkg/clock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func patientRouteServer(links *repository.MemoryLinkStore, clk clock.Clock, id models.Identity) http.Handler {
	access := services.NewAccessService(links, nil, 0)
	authz := services.NewAuthzService(access, clk)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), id)))
		})
	})
	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Use(middleware.RequirePatientAccess(authz))
		r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	return r
}

func TestRequirePatientAccess(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	caregiver := uuid.New()
	patient := uuid.New()
	admin := uuid.New()

	links := repository.NewMemoryLinkStore()
	users := repository.NewMemoryUserStore(
		models.User{ID: caregiver, Email: "carer@example.com", Role: models.RoleCaregiver, IsActive: true},
		models.User{ID: patient, Email: "patient@example.com", Role: models.RolePatient, IsActive: true},
	)
	svc := services.NewLinkService(links, users, repository.NewMemoryAuditStore(), nil, 0, notify.Noop{}, clk)
	if _, err := svc.CreateLink(context.Background(), models.LinkKindCaregiver, caregiver, caregiver, patient, models.LinkTypePermanent, nil, "", ""); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	tests := []struct {
		name    string
		caller  models.Identity
		patient uuid.UUID
		want    int
	}{
		{"linked caregiver", models.Identity{UserID: caregiver, Role: models.RoleCaregiver}, patient, http.StatusOK},
		{"unlinked caregiver", models.Identity{UserID: uuid.New(), Role: models.RoleCaregiver}, patient, http.StatusForbidden},
		{"patient self", models.Identity{UserID: patient, Role: models.RolePatient}, patient, http.StatusOK},
		{"patient other", models.Identity{UserID: patient, Role: models.RolePatient}, uuid.New(), http.StatusForbidden},
		{"admin", models.Identity{UserID: admin, Role: models.RoleAdmin}, patient, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := patientRouteServer(links, clk, tt.caller)
			req := httptest.NewRequest(http.MethodGet, "/patients/"+tt.patient.String()+"/records", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestRequirePatientAccessFailsClosed(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	caregiver := uuid.New()
	patient := uuid.New()

	links := repository.NewMemoryLinkStore()
	handler := patientRouteServer(links, clk, models.Identity{UserID: caregiver, Role: models.RoleCaregiver})

	links.FailNext(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/patients/"+patient.String()+"/records", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when the store is down, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRequirePatientAccessBadPatientID(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	links := repository.NewMemoryLinkStore()
	handler := patientRouteServer(links, clk, models.Identity{UserID: uuid.New(), Role: models.RoleAdmin})

	req := httptest.NewRequest(http.MethodGet, "/patients/not-a-uuid/records", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
}
