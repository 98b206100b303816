package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smashlab/coachchat/internal/config"
	"github.com/smashlab/coachchat/internal/repository/redis"
)

// Logical section keys, also used as formatter section names.
const (
	KeyMatchSummary     = "match_summary"
	KeyPlayerStats      = "player_stats"
	KeyShotDistribution = "shot_distribution"
	KeyRallyAnalysis    = "rally_analysis"
	KeyHeadToHead       = "head_to_head"
)

// h2hTTL overrides the default cache TTL for head-to-head records, which
// change far less often than live match data.
const h2hTTL = time.Hour

// Client fetches match statistics from the remote stats API. Every lookup
// runs the same pipeline: cache, then the API with bounded retries, then the
// stale cache slot as a last resort. Callers never see an error, only
// presence or absence.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *redis.DataCache
	maxRetries int
	cacheTTL   time.Duration

	// backoffBase is the first retry delay; it doubles per attempt.
	// Shrunk by tests.
	backoffBase time.Duration
}

// NewClient creates a stats API client backed by the given cache.
func NewClient(cfg config.StatsConfig, cache *redis.DataCache) *Client {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		cache:       cache,
		maxRetries:  retries,
		cacheTTL:    cfg.CacheTTL,
		backoffBase: time.Second,
	}
}

// Close releases pooled connections. Call once during shutdown.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
	log.Info().Msg("stats client closed")
}

// MatchSummary returns the summary record for one match.
func (c *Client) MatchSummary(ctx context.Context, matchID string) (json.RawMessage, bool) {
	return c.fetch(ctx,
		"/api/bwf/matches/"+url.PathEscape(matchID),
		nil,
		KeyMatchSummary+":"+matchID,
		c.cacheTTL)
}

// PlayerStats returns one player's per-match statistics.
func (c *Client) PlayerStats(ctx context.Context, matchID, playerID string) (json.RawMessage, bool) {
	return c.fetch(ctx,
		"/api/bwf/players/"+url.PathEscape(playerID)+"/stats",
		url.Values{"match_id": {matchID}},
		fmt.Sprintf("%s:%s:%s", KeyPlayerStats, matchID, playerID),
		c.cacheTTL)
}

// ShotDistribution returns shot type counts for a player within a match.
func (c *Client) ShotDistribution(ctx context.Context, matchID, playerID string) (json.RawMessage, bool) {
	return c.fetch(ctx,
		"/api/bwf/rallies/shots",
		url.Values{"match_id": {matchID}, "player_id": {playerID}},
		fmt.Sprintf("%s:%s:%s", KeyShotDistribution, matchID, playerID),
		c.cacheTTL)
}

// RallyAnalysis returns rally length aggregates for a match.
func (c *Client) RallyAnalysis(ctx context.Context, matchID string) (json.RawMessage, bool) {
	return c.fetch(ctx,
		"/api/bwf/rallies/analysis",
		url.Values{"match_id": {matchID}},
		KeyRallyAnalysis+":"+matchID,
		c.cacheTTL)
}

// HeadToHead returns the head-to-head record between two players. The cache
// key uses the sorted player pair so argument order does not split the cache.
func (c *Client) HeadToHead(ctx context.Context, player1ID, player2ID string) (json.RawMessage, bool) {
	ids := []string{player1ID, player2ID}
	sort.Strings(ids)

	return c.fetch(ctx,
		"/api/bwf/players/head-to-head",
		url.Values{"player1_id": {player1ID}, "player2_id": {player2ID}},
		fmt.Sprintf("h2h:%s:%s", ids[0], ids[1]),
		h2hTTL)
}

// FetchAll collects the match context sections concurrently. Player-scoped
// sections are fetched only when playerID is set. A failed section is simply
// absent from the result; one failure never aborts the batch.
func (c *Client) FetchAll(ctx context.Context, matchID, playerID string) map[string]json.RawMessage {
	log.Info().Str("match_id", matchID).Str("player_id", playerID).Msg("fetching match context")

	var mu sync.Mutex
	results := make(map[string]json.RawMessage)

	collect := func(key string, fn func() (json.RawMessage, bool)) func() error {
		return func() error {
			if data, ok := fn(); ok {
				mu.Lock()
				results[key] = data
				mu.Unlock()
			} else {
				log.Warn().Str("section", key).Msg("context section unavailable")
			}
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(collect(KeyMatchSummary, func() (json.RawMessage, bool) {
		return c.MatchSummary(gctx, matchID)
	}))
	g.Go(collect(KeyRallyAnalysis, func() (json.RawMessage, bool) {
		return c.RallyAnalysis(gctx, matchID)
	}))
	if playerID != "" {
		g.Go(collect(KeyPlayerStats, func() (json.RawMessage, bool) {
			return c.PlayerStats(gctx, matchID, playerID)
		}))
		g.Go(collect(KeyShotDistribution, func() (json.RawMessage, bool) {
			return c.ShotDistribution(gctx, matchID, playerID)
		}))
	}
	_ = g.Wait()

	fetched := make([]string, 0, len(results))
	for k := range results {
		fetched = append(fetched, k)
	}
	sort.Strings(fetched)
	log.Info().Strs("sections", fetched).Msg("match context fetched")

	return results
}

// fetch runs the cache/API/stale pipeline for one entity. The bool reports
// presence; failures at every layer degrade to absence.
func (c *Client) fetch(ctx context.Context, path string, params url.Values, cacheKey string, ttl time.Duration) (json.RawMessage, bool) {
	if data, ok := c.cache.Get(ctx, cacheKey); ok {
		log.Debug().Str("key", cacheKey).Msg("stats cache hit")
		return data, true
	}

	data, err := c.fetchWithRetry(ctx, path, params)
	if err == nil {
		c.cache.Set(ctx, cacheKey, data, ttl)
		return data, true
	}
	log.Warn().Err(err).Str("key", cacheKey).Msg("stats API failed")

	if stale, ok := c.cache.GetStale(ctx, cacheKey); ok {
		log.Info().Str("key", cacheKey).Msg("serving stale stats data")
		return stale, true
	}
	return nil, false
}

// fetchWithRetry calls the API with exponential backoff. Transport errors and
// 5xx responses are retried up to maxRetries attempts; 4xx responses fail
// immediately.
func (c *Client) fetchWithRetry(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoffBase<<(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build stats request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("stats API unreachable: %w", err)
			log.Warn().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("stats request failed")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				lastErr = fmt.Errorf("failed to read stats response: %w", readErr)
				continue
			}
			return body, nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("stats API returned %d", resp.StatusCode)
			log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("path", path).Msg("stats server error")
		default:
			// Client errors will not improve on retry.
			return nil, fmt.Errorf("stats API returned %d", resp.StatusCode)
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
