package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("sub-42", Claims{Name: "Ana", Email: "ana@example.com"}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "sub-42" || claims.Name != "Ana" {
		t.Errorf("claims round trip: %+v", claims)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("sub-42", Claims{}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken(token, []byte("other-secret")); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken("sub-42", Claims{}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatal("expected expiry failure")
	}
}

type fakeProvisioner struct {
	lastSubject string
}

func (f *fakeProvisioner) UpsertUser(_ context.Context, subject, _, _, _ string) (int64, error) {
	f.lastSubject = subject
	return 7, nil
}

func TestMiddleware(t *testing.T) {
	users := &fakeProvisioner{}
	var seen int64
	handler := Middleware(testSecret, users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	t.Run("valid token resolves user", func(t *testing.T) {
		token, _ := GenerateToken("sub-7", Claims{}, testSecret, time.Minute)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if seen != 7 || users.lastSubject != "sub-7" {
			t.Errorf("user id = %d, subject = %q", seen, users.lastSubject)
		}
	})

	t.Run("missing header passes through unauthenticated", func(t *testing.T) {
		seen = -1
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if seen != 0 {
			t.Errorf("expected unresolved user id, got %d", seen)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}
