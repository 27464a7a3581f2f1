package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "flock/internal/api/context"
	"flock/internal/platform/auth"
	"flock/internal/platform/config"
)

func TestAuthMiddleware(t *testing.T) {
	tokenSvc := auth.NewTokenService(config.JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
	})
	mw := NewAuthMiddleware(tokenSvc)

	token, err := tokenSvc.GenerateAccessToken("user_1", "org_1", "volunteer", "vol@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	t.Run("Valid Token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		rr := httptest.NewRecorder()
		mw.Handle(func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if claims.UserID != "user_1" || claims.OrganizationID != "org_1" {
				t.Errorf("claims = %+v", claims)
			}
			w.WriteHeader(http.StatusOK)
		}).ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})

	rejects := []struct {
		name   string
		header string
	}{
		{"Missing Header", ""},
		{"Not Bearer", "Basic dXNlcjpwYXNz"},
		{"Empty Token", "Bearer "},
		{"Garbage Token", "Bearer not.a.jwt"},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rr := httptest.NewRecorder()
			mw.Handle(func(w http.ResponseWriter, r *http.Request) {
				t.Error("Handler should not be called")
			}).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}
}
