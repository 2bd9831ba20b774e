package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erauner12/fieldsync/internal/kvstore"
)

// tokenServer serves the token endpoint from an Issuer and counts refreshes
type tokenServer struct {
	*httptest.Server
	issuer    *Issuer
	refreshes int32
	delay     time.Duration
}

func newTokenServer(t *testing.T, ttl time.Duration) *tokenServer {
	t.Helper()
	ts := &tokenServer{issuer: NewIssuer("secret", ttl, StaticUsers(map[string]string{"ana@example.org": "pw"}))}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		var resp *TokenResponse
		var err error
		switch r.URL.Query().Get("grant_type") {
		case "password":
			resp, err = ts.issuer.PasswordGrant(body["email"], body["password"])
		case "refresh_token":
			atomic.AddInt32(&ts.refreshes, 1)
			time.Sleep(ts.delay)
			resp, err = ts.issuer.RefreshGrant(body["refresh_token"])
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClientSignInPersistsAndRestores(t *testing.T) {
	ts := newTokenServer(t, time.Hour)
	store := kvstore.NewMemory()
	ctx := context.Background()

	c := NewClient(ts.URL, store)
	if _, err := c.Session(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Session() before sign-in = %v, want ErrNoSession", err)
	}

	var changes []*Session
	c.OnChange(func(s *Session) { changes = append(changes, s) })

	s, err := c.SignIn(ctx, "ana@example.org", "pw")
	if err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}
	if s.UserID != "ana@example.org" || s.ExpiresAt.IsZero() {
		t.Errorf("unexpected session: %+v", s)
	}
	if len(changes) != 1 || changes[0].AccessToken != s.AccessToken {
		t.Errorf("OnChange not called with new session: %v", changes)
	}

	restored := NewClient(ts.URL, store)
	got, err := restored.Restore(ctx)
	if err != nil || got == nil || got.AccessToken != s.AccessToken {
		t.Fatalf("Restore() = %+v, %v", got, err)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() failed: %v", err)
	}
	if _, ok, _ := store.GetItem(ctx, SessionKey); ok {
		t.Error("session still persisted after sign-out")
	}
	if len(changes) != 2 || changes[1] != nil {
		t.Error("sign-out should notify with nil session")
	}
}

func TestClientSignInRejected(t *testing.T) {
	ts := newTokenServer(t, time.Hour)

	_, err := NewClient(ts.URL, kvstore.NewMemory()).SignIn(context.Background(), "ana@example.org", "nope")

	var rf ErrRefreshFailed
	if !errors.As(err, &rf) || rf.Status != http.StatusBadRequest {
		t.Fatalf("expected ErrRefreshFailed 400, got %v", err)
	}
}

func TestClientRefreshIsSingleFlight(t *testing.T) {
	ts := newTokenServer(t, time.Hour)
	ts.delay = 50 * time.Millisecond
	ctx := context.Background()

	c := NewClient(ts.URL, kvstore.NewMemory())
	first, err := c.SignIn(ctx, "ana@example.org", "pw")
	if err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Refresh(ctx); err != nil {
				t.Errorf("Refresh() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&ts.refreshes); n != 1 {
		t.Errorf("expected 1 refresh request, got %d", n)
	}
	s, _ := c.Session(ctx)
	if s.RefreshToken == first.RefreshToken {
		t.Error("session was not replaced by refresh")
	}
}

func TestClientAccessTokenRefreshesAfterInvalidate(t *testing.T) {
	ts := newTokenServer(t, time.Hour)
	ctx := context.Background()

	c := NewClient(ts.URL, kvstore.NewMemory())
	first, err := c.SignIn(ctx, "ana@example.org", "pw")
	if err != nil {
		t.Fatalf("SignIn() failed: %v", err)
	}

	tok, err := c.AccessToken(ctx)
	if err != nil || tok != first.AccessToken {
		t.Fatalf("AccessToken() = %q, %v", tok, err)
	}
	if n := atomic.LoadInt32(&ts.refreshes); n != 0 {
		t.Fatalf("unexpected refresh for a fresh token")
	}

	c.Invalidate()
	if _, err := c.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken() after Invalidate failed: %v", err)
	}
	if n := atomic.LoadInt32(&ts.refreshes); n != 1 {
		t.Errorf("expected a refresh after Invalidate, got %d", n)
	}
}

func TestClientRefreshWithoutSession(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", kvstore.NewMemory())
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Refresh() = %v, want ErrNoSession", err)
	}
	if _, err := c.AccessToken(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("AccessToken() = %v, want ErrNoSession", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiresAt   time.Time
		wantExpired bool
		wantRefresh bool
	}{
		{"far future", now.Add(time.Hour), false, false},
		{"inside buffer", now.Add(2 * time.Minute), false, true},
		{"exactly expired", now, true, true},
		{"past", now.Add(-time.Minute), true, true},
		{"no expiry", time.Time{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{AccessToken: "x", ExpiresAt: tt.expiresAt}
			if got := s.IsExpired(now); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if got := s.NeedsRefresh(now, DefaultRefreshBuffer); got != tt.wantRefresh {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.wantRefresh)
			}
		})
	}
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signHS256(t, "any", map[string]any{"sub": "user-1", "exp": exp.Unix()})

	c, err := ParseClaims(tok)
	if err != nil {
		t.Fatalf("ParseClaims() failed: %v", err)
	}
	if c.Subject != "user-1" || !c.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected claims: %+v", c)
	}

	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
