package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go-wiki-engine/internal/auth"
)

func TestIdentity(t *testing.T) {
	var got auth.Subject
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSubject(r.Context())
	})

	t.Run("trusted headers populate the subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUserID, "42")
		req.Header.Set(HeaderUserName, "alice")
		req.Header.Set(HeaderUserEmail, "alice@example.com")
		Identity(inner).ServeHTTP(httptest.NewRecorder(), req)

		if got.ID != 42 || got.Name != "alice" || got.Email != "alice@example.com" {
			t.Errorf("unexpected subject: %+v", got)
		}
	})

	t.Run("no headers act as guest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		Identity(inner).ServeHTTP(httptest.NewRecorder(), req)

		if got.Name != "guest" || got.ID != 0 {
			t.Errorf("expected the guest subject, got %+v", got)
		}
	})

	t.Run("missing context defaults to guest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if subject := GetSubject(req.Context()); subject.Name != "guest" {
			t.Errorf("expected the guest subject, got %+v", subject)
		}
	})
}
