package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// SessionKey is the key-value entry holding the persisted session
const SessionKey = "auth.session"

// Client is the auth subsystem on the device: it signs in against the
// backend token endpoint, persists the session and refreshes it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      kvstore.KV
	now        func() time.Time

	mu          sync.RWMutex
	session     *Session
	invalidated bool
	listeners   []func(*Session)

	group singleflight.Group
}

// NewClient creates an auth client for the backend at baseURL
func NewClient(baseURL string, store kvstore.KV) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		now:        time.Now,
	}
}

// Restore loads a persisted session, if any
func (c *Client) Restore(ctx context.Context) (*Session, error) {
	raw, ok, err := c.store.GetItem(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable persisted session")
		_ = c.store.RemoveItem(ctx, SessionKey)
		return nil, nil
	}

	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()

	log.Info().Str("userId", s.UserID).Time("expiresAt", s.ExpiresAt).Msg("restored session")
	return &s, nil
}

// OnChange registers fn to be called with the new session after every
// sign-in, refresh and sign-out (nil)
func (c *Client) OnChange(fn func(*Session)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Session returns the current session, or ErrNoSession
func (c *Client) Session(_ context.Context) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	s := *c.session
	return &s, nil
}

// SignIn exchanges email and password for a session
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.tokenRequest(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	s := sessionFromResponse(resp, c.now())
	if err := c.setSession(ctx, s); err != nil {
		return nil, err
	}
	log.Info().Str("userId", s.UserID).Msg("signed in")
	return s, nil
}

// SignOut forgets the session locally
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.setSession(ctx, nil); err != nil {
		return err
	}
	log.Info().Msg("signed out")
	return nil
}

// Refresh exchanges the refresh token for a new session.
// Concurrent callers share one request.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()
	if current == nil {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, current.AccessToken, true)
}

// refresh runs one shared refresh. Unless force is set, a session that was
// already replaced since the caller saw stale is returned as is.
func (c *Client) refresh(ctx context.Context, stale string, force bool) (*Session, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.RLock()
		current := c.session
		invalidated := c.invalidated
		c.mu.RUnlock()

		if current == nil {
			return nil, ErrNoSession
		}
		// Double-check: another goroutine may have refreshed while we waited
		if !force && current.AccessToken != stale && !invalidated && !current.IsExpired(c.now()) {
			return current, nil
		}
		if current.RefreshToken == "" {
			return nil, ErrRefreshFailed{Reason: "session has no refresh token"}
		}

		resp, err := c.tokenRequest(ctx, "refresh_token", map[string]string{"refresh_token": current.RefreshToken})
		if err != nil {
			log.Warn().Err(err).Msg("session refresh failed")
			return nil, err
		}

		s := sessionFromResponse(resp, c.now())
		if err := c.setSession(ctx, s); err != nil {
			return nil, err
		}
		log.Info().Str("userId", s.UserID).Time("expiresAt", s.ExpiresAt).Msg("session refreshed")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := *v.(*Session)
	return &s, nil
}

// AccessToken returns a usable access token, refreshing first when the
// session is invalidated or about to expire
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	current := c.session
	invalidated := c.invalidated
	c.mu.RUnlock()

	if current == nil || current.AccessToken == "" {
		return "", ErrNoSession
	}
	if !invalidated && !current.NeedsRefresh(c.now(), time.Minute) {
		return current.AccessToken, nil
	}

	s, err := c.refresh(ctx, current.AccessToken, false)
	if err != nil {
		// A rejected refresh leaves an unexpired token usable
		if !invalidated && !current.IsExpired(c.now()) {
			return current.AccessToken, nil
		}
		return "", err
	}
	return s.AccessToken, nil
}

// Invalidate marks the current access token as rejected by the backend
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

func (c *Client) setSession(ctx context.Context, s *Session) error {
	if s == nil {
		if err := c.store.RemoveItem(ctx, SessionKey); err != nil {
			return fmt.Errorf("failed to remove session: %w", err)
		}
	} else {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := c.store.SetItem(ctx, SessionKey, string(b)); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}

	c.mu.Lock()
	c.session = s
	c.invalidated = false
	listeners := append([]func(*Session){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		if s == nil {
			fn(nil)
			continue
		}
		cp := *s
		fn(&cp)
	}
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, grant string, body map[string]string) (*TokenResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/token?grant_type="+grant, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var errBody struct {
			Message string `json:"message"`
		}
		reason := strings.TrimSpace(string(msg))
		if json.Unmarshal(msg, &errBody) == nil && errBody.Message != "" {
			reason = errBody.Message
		}
		return nil, ErrRefreshFailed{Status: resp.StatusCode, Reason: reason}
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("token response has no access token")
	}
	return &out, nil
}
