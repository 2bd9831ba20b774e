package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// ChangeEvent announces that rows of a table changed on the backend
type ChangeEvent struct {
	Table string `json:"table"`
	ID    string `json:"id,omitempty"`
}

// Subscribe opens the change feed and calls fn for each event until ctx is
// cancelled or the connection drops. It always returns a non-nil error.
func (c *Client) Subscribe(ctx context.Context, fn func(ChangeEvent)) error {
	h := http.Header{}
	if err := c.authorize(ctx, h); err != nil {
		return err
	}

	wsURL := c.baseURL + "/v1/sync/stream"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	// The feed is long-lived, so it does not share the request timeout
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
			c.tokens.Invalidate()
		}
		return fmt.Errorf("failed to open change feed: %w", err)
	}
	defer conn.CloseNow()

	log.Debug().Str("url", wsURL).Msg("change feed connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("change feed closed: %w", err)
		}

		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Table == "" {
			log.Warn().Str("event", string(data)).Msg("ignoring malformed change event")
			continue
		}
		fn(ev)
	}
}
