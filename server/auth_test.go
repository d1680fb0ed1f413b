package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParseToken(t *testing.T) {
	token, err := signToken("my-test-secret", "alice", "", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	claims, err := parseToken("my-test-secret", token)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Subject != "alice" || claims.Agent != "" {
		t.Errorf("claims = %+v, want subject alice without agent", claims)
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, err := signToken("my-test-secret", "alice", "", time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if _, err := parseToken("my-test-secret", token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseToken_BadSignature(t *testing.T) {
	token, _ := signToken("correct-secret", "alice", "", time.Hour, time.Now())
	if _, err := parseToken("wrong-secret", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseToken_RejectsUnsignedToken(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "mallory",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := parseToken("secret", token); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rec.Code)
	}

	rec = f.do(t, f.token, http.MethodGet, "/api/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", rec.Code, rec.Body)
	}
	var me map[string]string
	decodeBody(t, rec, &me)
	if me["username"] != "admin" {
		t.Errorf("username = %q, want admin", me["username"])
	}
}

func TestLogin_DisabledWithoutHash(t *testing.T) {
	cfg := testConfig(t)
	f := newFixture(t, cfg)
	cfg.Auth.AdminPass = ""
	f.srv.cfg = cfg
	rec := f.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": ""})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, testConfig(t))
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
		{"valid", f.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, tt.token, http.MethodGet, "/api/tasks", nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	// Public routes need no token.
	if rec := f.do(t, "", http.MethodGet, "/api/status", nil); rec.Code != http.StatusOK {
		t.Errorf("status route = %d, want 200", rec.Code)
	}
}

func TestAgentToken(t *testing.T) {
	f := newFixture(t, testConfig(t))

	rec := f.do(t, f.token, http.MethodPost, "/api/auth/agents/Research/token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue agent token status = %d, body %s", rec.Code, rec.Body)
	}
	var resp loginResponse
	decodeBody(t, rec, &resp)

	rec = f.do(t, resp.Token, http.MethodGet, "/api/auth/me", nil)
	var me map[string]string
	decodeBody(t, rec, &me)
	if me["agent"] != "Research" {
		t.Errorf("agent = %q, want Research", me["agent"])
	}

	if rec := f.do(t, resp.Token, http.MethodPost, "/api/auth/agents/Research/token", nil); rec.Code != http.StatusForbidden {
		t.Errorf("agent issuing tokens status = %d, want 403", rec.Code)
	}
	if rec := f.do(t, resp.Token, http.MethodPost, "/api/admin/backup", nil); rec.Code != http.StatusForbidden {
		t.Errorf("agent backup status = %d, want 403", rec.Code)
	}
	if rec := f.do(t, f.token, http.MethodPost, "/api/auth/agents/Ghost/token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}
