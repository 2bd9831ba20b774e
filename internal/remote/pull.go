package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Tombstone is a row deleted on the backend
type Tombstone struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// PullPage is one page of changes for a table
type PullPage struct {
	Upserts    []map[string]any `json:"upserts"`
	Deletes    []Tombstone      `json:"deletes"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// DeletedIDs returns the ids of the page's tombstones
func (p *PullPage) DeletedIDs() []string {
	ids := make([]string, 0, len(p.Deletes))
	for _, d := range p.Deletes {
		ids = append(ids, d.ID)
	}
	return ids
}

// Pull fetches changes of table after cursor. An empty NextCursor means
// the table is drained.
func (c *Client) Pull(ctx context.Context, table, cursor string, limit int) (*PullPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	reqURL := fmt.Sprintf("%s/v1/sync/%s/pull?%s", c.baseURL, url.PathEscape(table), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var page PullPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}
	return &page, nil
}
