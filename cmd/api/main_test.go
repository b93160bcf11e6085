package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clipcraft/clipcraft-api/internal/domain/credit"
	"github.com/clipcraft/clipcraft-api/internal/domain/generation"
	"github.com/clipcraft/clipcraft-api/internal/middleware"
	"github.com/clipcraft/clipcraft-api/internal/pkg/jwt"
)

func testRouter(t *testing.T) (http.Handler, *jwt.Service) {
	t.Helper()
	ledger := credit.NewLedger(credit.NewMemoryStore(), 300)
	svc := generation.NewService(generation.Deps{
		Factory: generation.NewFactory(generation.ProviderGoogleVeo),
		Ledger:  ledger,
	}, generation.Config{})
	jwtSvc := jwt.NewService("router-secret", time.Hour)

	return newRouter(nil, apiHandlers{
		auth:       middleware.Auth(jwtSvc),
		generation: generation.NewHandler(svc, generation.NewJobTracker(svc, time.Hour), nil, nil),
		credit:     credit.NewHandler(ledger),
	}), jwtSvc
}

func TestRouterMounts(t *testing.T) {
	router, jwtSvc := testRouter(t)
	userToken, _ := jwtSvc.GenerateAccessToken(uuid.New(), "user")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"ping", http.MethodGet, "/api/v1/ping", "", http.StatusOK},
		{"balance requires auth", http.MethodGet, "/api/v1/credits/balance", "", http.StatusUnauthorized},
		{"balance", http.MethodGet, "/api/v1/credits/balance", userToken, http.StatusOK},
		{"providers", http.MethodGet, "/api/v1/generations/providers", userToken, http.StatusOK},
		{"gallery", http.MethodGet, "/api/v1/videos", userToken, http.StatusOK},
		{"admin rejects users", http.MethodPost, "/api/admin/accounts/" + uuid.NewString() + "/credits", userToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}
