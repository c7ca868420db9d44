package matches

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/config"
)

const upcomingFixture = `[
	{"id":1,"event":{"name":"Major"},"team1":{"name":"FURIA"},"team2":{"name":"NAVI"}},
	{"id":2,"event":{"name":"Major"},"team1":{"name":"Vitality"},"team2":{"name":"G2"}},
	{"id":3,"event":{"name":"Major"},"team1":{"name":"MOUZ"},"team2":{"name":"FURIA"}}
]`

const livescoreFixture = `[
	{"team1":"Vitality","team2":"G2","score1":7,"score2":5},
	{"team1":"FURIA","team2":"NAVI","score1":13,"score2":11}
]`

func newTestClient(t *testing.T, handler http.Handler, ttl time.Duration) *Client {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	return NewClient(config.MatchesConfig{
		BaseURL:  upstream.URL,
		Team:     "FURIA",
		Timeout:  2 * time.Second,
		CacheTTL: ttl,
	}, zap.NewNop())
}

func TestUpcomingFiltersToConfiguredTeam(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/matches", r.URL.Path)
		_, _ = w.Write([]byte(upcomingFixture))
	}), 0)

	upcoming, err := client.Upcoming(context.Background())
	req.NoError(err)
	req.Len(upcoming, 2, "only the configured team's matches pass the filter")
}

func TestLivePicksTeamMatch(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/livescore", r.URL.Path)
		_, _ = w.Write([]byte(livescoreFixture))
	}), 0)

	live, err := client.Live(context.Background())
	req.NoError(err)
	req.NotNil(live)
	req.Contains(string(live), `"team1":"FURIA"`)
}

func TestLiveNilWhenTeamNotPlaying(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"team1":"Vitality","team2":"G2"}]`))
	}), 0)

	live, err := client.Live(context.Background())
	req.NoError(err)
	req.Nil(live)
}

func TestUpcomingServedFromCacheWithinTTL(t *testing.T) {
	req := require.New(t)
	var hits atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(upcomingFixture))
	}), time.Minute)

	for i := 0; i < 3; i++ {
		_, err := client.Upcoming(context.Background())
		req.NoError(err)
	}
	req.EqualValues(1, hits.Load(), "repeat reads inside the TTL hit the cache")
}

func TestUpstreamFailuresSurfaceAsErrors(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}), 0)

	_, err := client.Upcoming(context.Background())
	req.Error(err)

	_, err = client.Live(context.Background())
	req.Error(err)
}
