package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type mockTokens struct {
	token       string
	invalidated int32
}

func (m *mockTokens) AccessToken(context.Context) (string, error) {
	if atomic.LoadInt32(&m.invalidated) > 0 {
		return m.token + "-fresh", nil
	}
	return m.token, nil
}

func (m *mockTokens) Invalidate() { atomic.AddInt32(&m.invalidated, 1) }

func TestClient_RequestShapes(t *testing.T) {
	type captured struct {
		method, path, query, prefer, auth, corr string
		body                                    map[string]any
	}

	tests := []struct {
		name string
		call func(c *Client) error
		want captured
	}{
		{
			name: "upsert",
			call: func(c *Client) error {
				return c.Upsert(context.Background(), "actors", map[string]any{"id": "a-1", "name": "Ana"})
			},
			want: captured{method: "POST", path: "/rest/v1/actors", prefer: "resolution=merge-duplicates",
				body: map[string]any{"id": "a-1", "name": "Ana"}},
		},
		{
			name: "update",
			call: func(c *Client) error {
				return c.Update(context.Background(), "actors", map[string]any{"name": "Ana Maria"}, "a-1")
			},
			want: captured{method: "PATCH", path: "/rest/v1/actors", query: "id=eq.a-1",
				body: map[string]any{"name": "Ana Maria"}},
		},
		{
			name: "delete",
			call: func(c *Client) error {
				return c.Delete(context.Background(), "actors", "a-1")
			},
			want: captured{method: "DELETE", path: "/rest/v1/actors", query: "id=eq.a-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = captured{
					method: r.Method,
					path:   r.URL.Path,
					query:  r.URL.RawQuery,
					prefer: r.Header.Get("Prefer"),
					auth:   r.Header.Get("Authorization"),
					corr:   r.Header.Get("X-Correlation-ID"),
				}
				if b, _ := io.ReadAll(r.Body); len(b) > 0 {
					_ = json.Unmarshal(b, &got.body)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			c := NewClient(server.URL, StaticToken("tok"))
			if err := tt.call(c); err != nil {
				t.Fatalf("call failed: %v", err)
			}

			if got.method != tt.want.method || got.path != tt.want.path || got.query != tt.want.query {
				t.Errorf("request = %s %s?%s, want %s %s?%s", got.method, got.path, got.query, tt.want.method, tt.want.path, tt.want.query)
			}
			if got.prefer != tt.want.prefer {
				t.Errorf("Prefer = %q, want %q", got.prefer, tt.want.prefer)
			}
			if got.auth != "Bearer tok" {
				t.Errorf("Authorization = %q", got.auth)
			}
			if got.corr == "" {
				t.Error("missing X-Correlation-ID header")
			}
			for k, v := range tt.want.body {
				if got.body[k] != v {
					t.Errorf("body[%s] = %v, want %v", k, got.body[k], v)
				}
			}
		})
	}
}

func TestClient_DecodesStructuredError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value","details":"Key (id)=(a-1) already exists.","hint":""}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, StaticToken("tok")).Upsert(context.Background(), "actors", map[string]any{"id": "a-1"})

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "23505" || apiErr.Details == "" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

func TestClient_PlainTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(server.URL, StaticToken("tok")).Delete(context.Background(), "actors", "a-1")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "" || apiErr.Message != "upstream unavailable" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_Retry401(t *testing.T) {
	var calls int32
	var lastAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		lastAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	tokens := &mockTokens{token: "stale"}
	if err := NewClient(server.URL, tokens).Delete(context.Background(), "actors", "a-1"); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if tokens.invalidated != 1 {
		t.Errorf("expected token invalidated once, got %d", tokens.invalidated)
	}
	if lastAuth != "Bearer stale-fresh" {
		t.Errorf("retry used %q", lastAuth)
	}
}

func TestClient_DevMode401IsNotRetried(t *testing.T) {
	var calls int32
	var debugSub string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		debugSub = r.Header.Get("X-Debug-Sub")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, WithDebugSubject("dev-user"))
	err := c.Delete(context.Background(), "actors", "a-1")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls != 1 || debugSub != "dev-user" {
		t.Errorf("calls=%d debugSub=%q", calls, debugSub)
	}
}

func TestClient_Retry429(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, StaticToken("tok"), WithBackoff(time.Millisecond))
	if err := c.Upsert(context.Background(), "actors", map[string]any{"id": "a-1"}); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestClient_429MaxRetries(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, StaticToken("tok"), WithBackoff(time.Millisecond))
	err := c.Upsert(context.Background(), "actors", map[string]any{"id": "a-1"})

	var rl ErrRateLimited
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", MaxRetries+1, calls)
	}
}

func TestClient_NoToken(t *testing.T) {
	err := NewClient("http://127.0.0.1:1", StaticToken("")).Delete(context.Background(), "actors", "a-1")
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
}

func TestClient_Pull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sync/actors/pull" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("cursor") != "c1" || r.URL.Query().Get("limit") != "100" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"upserts":    []map[string]any{{"id": "a-1", "name": "Ana"}},
			"deletes":    []map[string]any{{"id": "a-2", "deletedAt": "2025-01-01T00:00:00Z"}},
			"nextCursor": "c2",
		})
	}))
	defer server.Close()

	page, err := NewClient(server.URL, StaticToken("tok")).Pull(context.Background(), "actors", "c1", 100)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if len(page.Upserts) != 1 || page.NextCursor != "c2" {
		t.Errorf("unexpected page: %+v", page)
	}
	if ids := page.DeletedIDs(); len(ids) != 1 || ids[0] != "a-2" {
		t.Errorf("DeletedIDs() = %v", ids)
	}
}

func TestClient_Health(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() failed: %v", err)
	}
	healthy = false
	if err := c.Health(context.Background()); err == nil {
		t.Error("expected Health() to fail on 503")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
