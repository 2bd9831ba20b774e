package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tok
}

func TestMiddleware(t *testing.T) {
	const secret = "test-secret"
	valid := signHS256(t, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	expired := signHS256(t, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := signHS256(t, "other", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	noSub := signHS256(t, secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name     string
		devMode  bool
		header   map[string]string
		wantCode int
		wantSub  string
	}{
		{"valid bearer", false, map[string]string{"Authorization": "Bearer " + valid}, 200, "user-1"},
		{"expired bearer", false, map[string]string{"Authorization": "Bearer " + expired}, 401, ""},
		{"wrong key", false, map[string]string{"Authorization": "Bearer " + wrongKey}, 401, ""},
		{"missing subject", false, map[string]string{"Authorization": "Bearer " + noSub}, 401, ""},
		{"no credentials", false, nil, 401, ""},
		{"debug sub rejected outside dev mode", false, map[string]string{"X-Debug-Sub": "dev"}, 401, ""},
		{"debug sub in dev mode", true, map[string]string{"X-Debug-Sub": "dev"}, 200, "dev"},
		{"bearer wins over debug sub", true, map[string]string{"Authorization": "Bearer " + valid, "X-Debug-Sub": "dev"}, 200, "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSub string
			h := Middleware(JWTCfg{HS256Secret: secret, DevMode: tt.devMode})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSub = UserID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if gotSub != tt.wantSub {
				t.Errorf("sub = %q, want %q", gotSub, tt.wantSub)
			}
		})
	}
}

func TestIssuerRotatesRefreshTokens(t *testing.T) {
	iss := NewIssuer("secret", time.Hour, StaticUsers(map[string]string{"ana@example.org": "pw"}))

	if _, err := iss.PasswordGrant("ana@example.org", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	first, err := iss.PasswordGrant("ana@example.org", "pw")
	if err != nil {
		t.Fatalf("PasswordGrant() failed: %v", err)
	}
	if sub, err := ValidateToken(first.AccessToken, "secret"); err != nil || sub != "ana@example.org" {
		t.Fatalf("issued token invalid: %q, %v", sub, err)
	}

	second, err := iss.RefreshGrant(first.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshGrant() failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if _, err := iss.RefreshGrant(first.RefreshToken); err != ErrInvalidRefreshToken {
		t.Errorf("reusing a rotated refresh token = %v, want ErrInvalidRefreshToken", err)
	}
}
