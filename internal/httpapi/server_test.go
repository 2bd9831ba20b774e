package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/service/tablesvc"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// fakeStore is an in-memory TableStore
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string]map[string]any // "table/id" -> row
	owners map[string]string
	err    error

	pullCursor syncx.Cursor
	pullLimit  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]map[string]any{}, owners: map[string]string{}}
}

func (f *fakeStore) Upsert(_ context.Context, ownerID, table string, record map[string]any) (*tablesvc.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id, ok := syncx.GetString(record, "id")
	if !ok || id == "" {
		return nil, syncx.ErrMissingID
	}
	f.rows[table+"/"+id] = record
	f.owners[table+"/"+id] = ownerID
	return &tablesvc.Item{ID: id, Table: table, Version: 1, Payload: record}, nil
}

func (f *fakeStore) Patch(_ context.Context, table, id string, partial map[string]any) (*tablesvc.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[table+"/"+id]
	if !ok {
		return nil, nil
	}
	for k, v := range partial {
		row[k] = v
	}
	return &tablesvc.Item{ID: id, Table: table, Version: 2, Payload: row}, nil
}

func (f *fakeStore) Delete(_ context.Context, table, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.rows[table+"/"+id]
	delete(f.rows, table+"/"+id)
	return ok, nil
}

func (f *fakeStore) Pull(_ context.Context, table string, cursor syncx.Cursor, limit int) (*tablesvc.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.pullCursor, f.pullLimit = cursor, limit
	next := syncx.EncodeCursor(syncx.Cursor{Ms: 42, ID: "a-1"})
	return &tablesvc.PullResponse{
		Upserts:    []map[string]any{{"id": "a-1", "name": "Wanjiru"}},
		Deletes:    []tablesvc.Tombstone{{ID: "a-0", DeletedAt: syncx.RFC3339(41)}},
		NextCursor: &next,
	}, nil
}

const testSecret = "test-secret"

func newTestServer(store *fakeStore) (*Server, http.Handler) {
	srv := &Server{
		Tables:     store,
		TableNames: []string{"actors", "actor_details"},
		Issuer:     auth.NewIssuer(testSecret, time.Hour, auth.StaticUsers(map[string]string{"agent@example.org": "pw"})),
		Hub:        NewHub(),
	}
	return srv, srv.Routes(auth.JWTCfg{HS256Secret: testSecret, DevMode: true})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Debug-Sub", "agent-1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestUpsertRow(t *testing.T) {
	store := newFakeStore()
	_, h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPost, "/rest/v1/actors", map[string]any{"id": "a-1", "name": "Wanjiru Kamau"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}

	if got := store.rows["actors/a-1"]["name"]; got != "Wanjiru Kamau" {
		t.Errorf("stored name = %v", got)
	}
	if got := store.owners["actors/a-1"]; got != "agent-1" {
		t.Errorf("owner = %q, want agent-1", got)
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     map[string]any
		wantCode int
		wantSQL  string
	}{
		{
			name:     "unknown table check violation",
			err:      &pgconn.PgError{Code: "23514", Message: `new row violates check constraint "sync_row_table_name_check"`},
			wantCode: http.StatusConflict,
			wantSQL:  "23514",
		},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: "23505", Message: "duplicate key", Detail: "Key (id)=(a-1) already exists."},
			wantCode: http.StatusConflict,
			wantSQL:  "23505",
		},
		{
			name:     "invalid text representation",
			err:      &pgconn.PgError{Code: "22P02", Message: "invalid input syntax"},
			wantCode: http.StatusBadRequest,
			wantSQL:  "22P02",
		},
		{
			name:     "insufficient privilege",
			err:      &pgconn.PgError{Code: "42501", Message: "permission denied"},
			wantCode: http.StatusForbidden,
			wantSQL:  "42501",
		},
		{
			name:     "connection failure",
			err:      &pgconn.PgError{Code: "08006", Message: "connection failure"},
			wantCode: http.StatusInternalServerError,
			wantSQL:  "08006",
		},
		{
			name:     "plain error",
			err:      errors.New("pool closed"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "missing id",
			body:     map[string]any{"name": "no id"},
			wantCode: http.StatusBadRequest,
			wantSQL:  codeInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.err = tt.err
			_, h := newTestServer(store)

			body := tt.body
			if body == nil {
				body = map[string]any{"id": "a-1"}
			}
			rec := doRequest(t, h, http.MethodPost, "/rest/v1/actors", body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := decodeAPIError(t, rec); got.Code != tt.wantSQL {
				t.Errorf("code = %q, want %q", got.Code, tt.wantSQL)
			}
		})
	}
}

func TestRowFilterRequired(t *testing.T) {
	_, h := newTestServer(newFakeStore())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPatch, "/rest/v1/actors"},
		{http.MethodPatch, "/rest/v1/actors?id=a-1"},
		{http.MethodDelete, "/rest/v1/actors?id=eq."},
		{http.MethodDelete, "/rest/v1/actors?name=eq.x"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.path, map[string]any{"name": "x"})
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeAPIError(t, rec); got.Hint == "" {
				t.Error("expected a hint for the filter syntax")
			}
		})
	}
}

func TestPatchAndDeleteRow(t *testing.T) {
	store := newFakeStore()
	store.rows["actors/a-1"] = map[string]any{"id": "a-1", "name": "old"}
	_, h := newTestServer(store)

	rec := doRequest(t, h, http.MethodPatch, "/rest/v1/actors?id=eq.a-1", map[string]any{"name": "new"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PATCH status = %d, want 204", rec.Code)
	}
	if got := store.rows["actors/a-1"]["name"]; got != "new" {
		t.Errorf("name after patch = %v", got)
	}

	// Missing rows are not an error
	rec = doRequest(t, h, http.MethodPatch, "/rest/v1/actors?id=eq.nope", map[string]any{"name": "x"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("PATCH missing status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/rest/v1/actors?id=eq.a-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}
	if _, ok := store.rows["actors/a-1"]; ok {
		t.Error("row still present after delete")
	}
}

func TestPull(t *testing.T) {
	cursor := syncx.EncodeCursor(syncx.Cursor{Ms: 10, ID: "a-0"})

	tests := []struct {
		name       string
		query      string
		wantCursor syncx.Cursor
		wantLimit  int
	}{
		{"defaults", "", syncx.Cursor{}, defaultPullLimit},
		{"cursor and limit", "?cursor=" + cursor + "&limit=25", syncx.Cursor{Ms: 10, ID: "a-0"}, 25},
		{"limit capped", "?limit=5000", syncx.Cursor{}, maxPullLimit},
		{"invalid cursor restarts", "?cursor=%21%21", syncx.Cursor{}, defaultPullLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			_, h := newTestServer(store)

			rec := doRequest(t, h, http.MethodGet, "/v1/sync/actors/pull"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
			}
			if store.pullCursor != tt.wantCursor || store.pullLimit != tt.wantLimit {
				t.Errorf("store got cursor %+v limit %d, want %+v %d", store.pullCursor, store.pullLimit, tt.wantCursor, tt.wantLimit)
			}

			var resp tablesvc.PullResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if len(resp.Upserts) != 1 || len(resp.Deletes) != 1 || resp.NextCursor == nil {
				t.Errorf("unexpected page %+v", resp)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	_, h := newTestServer(newFakeStore())

	for _, path := range []string{"/rest/v1/actors", "/v1/sync/actors/pull"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK || rec.Code == http.StatusCreated {
			t.Errorf("%s without credentials: status = %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
}

func TestTokenGrants(t *testing.T) {
	_, h := newTestServer(newFakeStore())

	post := func(grant string, body map[string]string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/token?grant_type="+grant, bytes.NewReader(b))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post("password", map[string]string{"email": "agent@example.org", "password": "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("password grant status = %d: %s", rec.Code, rec.Body.String())
	}
	var tokens auth.TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&tokens); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("incomplete tokens %+v", tokens)
	}

	// The issued token authenticates table writes
	req := httptest.NewRequest(http.MethodPost, "/rest/v1/actors", strings.NewReader(`{"id":"a-1"}`))
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	wrec := httptest.NewRecorder()
	h.ServeHTTP(wrec, req)
	if wrec.Code != http.StatusCreated {
		t.Errorf("write with issued token: status = %d", wrec.Code)
	}

	if rec := post("refresh_token", map[string]string{"refresh_token": tokens.RefreshToken}); rec.Code != http.StatusOK {
		t.Errorf("refresh grant status = %d", rec.Code)
	}
	// Refresh tokens rotate
	if rec := post("refresh_token", map[string]string{"refresh_token": tokens.RefreshToken}); rec.Code != http.StatusBadRequest {
		t.Errorf("reused refresh token status = %d, want 400", rec.Code)
	}
	if rec := post("password", map[string]string{"email": "agent@example.org", "password": "wrong"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad password status = %d, want 400", rec.Code)
	}
	if rec := post("magic_link", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown grant status = %d, want 400", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	_, h := newTestServer(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/info", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var info ServerInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(info.Tables) != 2 || !info.Tables["actors"].Pull || !info.ChangeFeed {
		t.Errorf("unexpected info %+v", info)
	}
	if info.RateLimit != nil {
		t.Error("rate limit advertised while disabled")
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	_, h := newTestServer(newFakeStore())
	doRequest(t, h, http.MethodPost, "/rest/v1/actors", map[string]any{"id": "a-1"})

	var line struct {
		Route         string `json:"route"`
		Table         string `json:"table"`
		Status        int    `json:"status"`
		CorrelationID string `json:"correlation_id"`
	}
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(l, `"message":"request"`) {
			if err := json.Unmarshal([]byte(l), &line); err != nil {
				t.Fatalf("bad log line %q: %v", l, err)
			}
		}
	}
	if line.Route != "/rest/v1/{table}" || line.Table != "actors" || line.Status != http.StatusCreated {
		t.Errorf("access log = %+v", line)
	}
	if line.CorrelationID == "" {
		t.Error("access log lacks the correlation id")
	}
}

func TestStreamDeliversWrites(t *testing.T) {
	srv, h := newTestServer(newFakeStore())
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("X-Debug-Sub", "agent-2")
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/sync/stream", &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("failed to dial stream: %v", err)
	}
	defer conn.CloseNow()

	for srv.Hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec := doRequest(t, h, http.MethodPost, "/rest/v1/actor_details", map[string]any{"id": "d-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("upsert status = %d", rec.Code)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Table != "actor_details" || ev.ID != "d-1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(ChangeEvent{Table: "actors"})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("queued = %d, want %d", len(ch), subscriberBuffer)
	}
}

type publisherFunc func(ChangeEvent)

func (f publisherFunc) Publish(ev ChangeEvent) { f(ev) }

func TestPublisherReplacesHub(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	var got []ChangeEvent
	srv.Publisher = publisherFunc(func(ev ChangeEvent) { got = append(got, ev) })
	h := srv.Routes(auth.JWTCfg{HS256Secret: testSecret, DevMode: true})

	doRequest(t, h, http.MethodPost, "/rest/v1/actors", map[string]any{"id": "a-9"})

	if len(got) != 1 || got[0] != (ChangeEvent{Table: "actors", ID: "a-9"}) {
		t.Errorf("published = %+v", got)
	}
}
