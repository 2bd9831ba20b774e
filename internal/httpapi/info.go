package httpapi

import (
	"net/http"
	"time"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion string                     `json:"apiVersion"`
	ServerTime string                     `json:"serverTime"`
	Tables     map[string]TableCapability `json:"tables"`
	ChangeFeed bool                       `json:"changeFeed"`
	RateLimit  *RateLimitInfo             `json:"rateLimit,omitempty"`
	Hints      *SyncHints                 `json:"hints,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// SyncHints provides recommendations for client behavior
type SyncHints struct {
	RecommendedBatch int `json:"recommendedBatch"` // safe pull page size
	BackoffMsOn429   int `json:"backoffMsOn429"`   // default backoff if Retry-After missing
}

// TableCapability describes what clients may do with one table
type TableCapability struct {
	MaxLimit int  `json:"maxLimit"`
	Write    bool `json:"write"`
	Pull     bool `json:"pull"`
}

// Info handles GET /v1/sync/info.
// It is unauthenticated so clients can discover capabilities before sign-in.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	tables := make(map[string]TableCapability, len(s.TableNames))
	for _, name := range s.TableNames {
		tables[name] = TableCapability{MaxLimit: maxPullLimit, Write: true, Pull: true}
	}

	info := ServerInfo{
		APIVersion: "1.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Tables:     tables,
		ChangeFeed: s.Hub != nil,
		Hints: &SyncHints{
			RecommendedBatch: defaultPullLimit,
			BackoffMsOn429:   1500,
		},
	}
	if s.RateLimitConfig.MaxRequests > 0 {
		rl := s.RateLimitConfig
		info.RateLimit = &rl
	}

	writeJSON(w, http.StatusOK, info)
}
