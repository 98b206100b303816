package stats

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/config"
	"github.com/smashlab/coachchat/internal/repository/redis"
)

// Layer is the entry point the chat service talks to: fetch the match
// context and format it in one call.
type Layer struct {
	client    *Client
	formatter *Formatter
}

// NewLayer wires a stats client and formatter from config.
func NewLayer(cfg config.StatsConfig, cache *redis.DataCache) *Layer {
	return &Layer{
		client:    NewClient(cfg, cache),
		formatter: NewFormatter(cfg.MaxContextTokens),
	}
}

// MatchContext collects and formats the stats context for one match. It
// always returns a usable context; total data unavailability yields an empty
// one.
func (l *Layer) MatchContext(ctx context.Context, matchID, playerID string) FormattedContext {
	raw := l.client.FetchAll(ctx, matchID, playerID)
	return l.formatter.Build(raw)
}

// HeadToHead exposes the head-to-head lookup for callers that want the raw
// record rather than prompt text.
func (l *Layer) HeadToHead(ctx context.Context, player1ID, player2ID string) (json.RawMessage, bool) {
	return l.client.HeadToHead(ctx, player1ID, player2ID)
}

// Close releases the client's pooled connections.
func (l *Layer) Close() {
	l.client.Close()
	log.Info().Msg("stats layer closed")
}
