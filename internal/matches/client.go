// Package matches is a read-through proxy over a third-party esports data
// source. It shares no state with the chat core: it fetches, filters to the
// configured team and caches for a short TTL.
package matches

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/config"
)

// Client polls the HLTV community API for the configured team's matches.
// Responses are passed through unmodified apart from team filtering, so the
// payload shape tracks the upstream, not this server.
type Client struct {
	baseURL string
	team    string
	ttl     time.Duration
	httpc   *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	upcoming cacheEntry
	live     cacheEntry
}

type cacheEntry struct {
	payload []json.RawMessage
	fetched time.Time
}

func (e cacheEntry) fresh(ttl time.Duration) bool {
	return !e.fetched.IsZero() && time.Since(e.fetched) < ttl
}

func NewClient(cfg config.MatchesConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		team:    cfg.Team,
		ttl:     cfg.CacheTTL,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// upcomingProbe reads just enough of an upcoming-match object to filter it.
type upcomingProbe struct {
	Team1 struct {
		Name string `json:"name"`
	} `json:"team1"`
	Team2 struct {
		Name string `json:"name"`
	} `json:"team2"`
}

// liveProbe reads the live-score shape, where teams are plain strings.
type liveProbe struct {
	Team1 string `json:"team1"`
	Team2 string `json:"team2"`
}

// Upcoming returns the team's scheduled matches as raw upstream objects.
func (c *Client) Upcoming(ctx context.Context) ([]json.RawMessage, error) {
	c.mu.Lock()
	if c.upcoming.fresh(c.ttl) {
		payload := c.upcoming.payload
		c.mu.Unlock()
		return payload, nil
	}
	c.mu.Unlock()

	all, err := c.fetch(ctx, "/matches")
	if err != nil {
		return nil, err
	}

	filtered := make([]json.RawMessage, 0, len(all))
	for _, raw := range all {
		var probe upcomingProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			c.logger.Debug("skipping unparsable match entry", zap.Error(err))
			continue
		}
		if probe.Team1.Name == c.team || probe.Team2.Name == c.team {
			filtered = append(filtered, raw)
		}
	}

	c.mu.Lock()
	c.upcoming = cacheEntry{payload: filtered, fetched: time.Now()}
	c.mu.Unlock()
	return filtered, nil
}

// Live returns the team's live match, or nil when none is in play.
func (c *Client) Live(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	if c.live.fresh(c.ttl) {
		payload := c.live.payload
		c.mu.Unlock()
		return first(payload), nil
	}
	c.mu.Unlock()

	all, err := c.fetch(ctx, "/livescore")
	if err != nil {
		return nil, err
	}

	var found []json.RawMessage
	for _, raw := range all {
		var probe liveProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.Team1 == c.team || probe.Team2 == c.team {
			found = append(found, raw)
			break
		}
	}

	c.mu.Lock()
	c.live = cacheEntry{payload: found, fetched: time.Now()}
	c.mu.Unlock()
	return first(found), nil
}

func first(payload []json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	return payload[0]
}

func (c *Client) fetch(ctx context.Context, path string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: upstream status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return entries, nil
}
