package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Minute)

	token, err := mgr.Generate("u1", "alice", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Minute)
	token, err := mgr.Generate("u1", "alice", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := mgr.Verify(token); err == nil {
		t.Fatalf("expected verification of an expired token to fail")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	mgr := NewJWTManager("secret-a", time.Minute)
	token, _ := mgr.Generate("u1", "alice", "admin")

	other := NewJWTManager("secret-b", time.Minute)
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected verification with the wrong secret to fail")
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	token, err := ExtractTokenFromHeader(req)
	if err != nil || token != "abc123" {
		t.Fatalf("expected abc123, got %q err=%v", token, err)
	}
}

func TestExtractTokenFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=xyz", nil)
	token, err := ExtractTokenFromQuery(req)
	if err != nil || token != "xyz" {
		t.Fatalf("expected xyz, got %q err=%v", token, err)
	}
}

func TestWebSocketAuthPrefersQueryThenHeader(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Minute)
	token, _ := mgr.Generate("u1", "alice", "admin")

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	claims, err := mgr.WebSocketAuth(req)
	if err != nil || claims.UserID != "u1" {
		t.Fatalf("expected successful websocket auth via query, got claims=%v err=%v", claims, err)
	}

	hreq := httptest.NewRequest(http.MethodGet, "/ws", nil)
	hreq.Header.Set("Authorization", "Bearer "+token)
	claims, err = mgr.WebSocketAuth(hreq)
	if err != nil || claims.UserID != "u1" {
		t.Fatalf("expected websocket auth to fall back to the Authorization header, got claims=%v err=%v", claims, err)
	}
}

