package stats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// sectionPriority fixes the order sections are considered for inclusion.
// When the budget runs out, later sections are dropped whole.
var sectionPriority = []string{
	KeyMatchSummary,
	KeyPlayerStats,
	KeyShotDistribution,
	KeyRallyAnalysis,
}

// minTruncatedTokens is the smallest partial section worth keeping.
const minTruncatedTokens = 50

const truncationMarker = "\n(remaining data omitted)"

// FormattedContext is the text block injected into the system prompt.
type FormattedContext struct {
	Text        string   `json:"text"`
	TokenCount  int      `json:"token_count"`
	DataSources []string `json:"data_sources"`
}

// Formatter renders raw stats payloads into prompt text under a token budget.
type Formatter struct {
	maxTokens int
}

// NewFormatter creates a formatter with the given token budget.
func NewFormatter(maxTokens int) *Formatter {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Formatter{maxTokens: maxTokens}
}

// Build renders the present sections in priority order and joins them with
// blank lines up to the token budget. A section that fails to render is
// dropped on its own; an all-absent input yields a valid empty context.
func (f *Formatter) Build(inputs map[string]json.RawMessage) FormattedContext {
	var sections []string
	var sources []string

	for _, key := range sectionPriority {
		raw, ok := inputs[key]
		if !ok {
			continue
		}
		text := renderSection(key, raw)
		if text == "" {
			continue
		}
		sections = append(sections, text)
		sources = append(sources, key)
	}

	if len(sections) == 0 {
		log.Info().Msg("no stats data available for context")
		return FormattedContext{DataSources: []string{}}
	}

	combined := f.truncate(sections)
	tokens := estimateTokens(combined)

	log.Info().Int("sources", len(sources)).Int("tokens", tokens).Msg("stats context built")

	return FormattedContext{
		Text:        combined,
		TokenCount:  tokens,
		DataSources: sources,
	}
}

// truncate joins sections until the budget is spent. A section that would
// overflow is cut to the remaining allowance and marked, and everything after
// it is dropped.
func (f *Formatter) truncate(sections []string) string {
	var kept []string
	used := 0

	for _, section := range sections {
		tokens := estimateTokens(section)
		if used+tokens > f.maxTokens {
			remaining := f.maxTokens - used
			if remaining > minTruncatedTokens {
				runes := []rune(section)
				limit := remaining * charsPerToken
				if limit > len(runes) {
					limit = len(runes)
				}
				kept = append(kept, string(runes[:limit])+truncationMarker)
			}
			break
		}
		kept = append(kept, section)
		used += tokens
	}

	return strings.Join(kept, "\n\n")
}

// charsPerToken is a rough character-per-token ratio. estimateTokens is an
// approximation, not a real tokenizer; it only has to be stable enough to
// bound prompt size.
const charsPerToken = 3

func estimateTokens(text string) int {
	return len([]rune(text)) / charsPerToken
}

func renderSection(key string, raw json.RawMessage) string {
	var text string
	switch key {
	case KeyMatchSummary:
		text = renderMatchSummary(raw)
	case KeyPlayerStats:
		text = renderPlayerStats(raw)
	case KeyShotDistribution:
		text = renderShotDistribution(raw)
	case KeyRallyAnalysis:
		text = renderRallyAnalysis(raw)
	}
	return text
}

type playerRef struct {
	Name   string `json:"name"`
	Nation string `json:"nation"`
}

type gameScore struct {
	Game int `json:"game"`
	P1   int `json:"p1_score"`
	P2   int `json:"p2_score"`
}

func renderMatchSummary(raw json.RawMessage) string {
	var data struct {
		Tournament string      `json:"tournament"`
		Round      string      `json:"round"`
		Date       string      `json:"date"`
		Status     string      `json:"status"`
		Player1    playerRef   `json:"player1"`
		Player2    playerRef   `json:"player2"`
		Scores     []gameScore `json:"scores"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Msg("match summary payload did not render")
		return ""
	}

	p1 := data.Player1.Name
	if p1 == "" {
		p1 = "Player 1"
	}
	p2 := data.Player2.Name
	if p2 == "" {
		p2 = "Player 2"
	}

	var scoreLines []string
	for _, s := range data.Scores {
		scoreLines = append(scoreLines, fmt.Sprintf("  - Game %d: %s %d - %d %s", s.Game, p1, s.P1, s.P2, p2))
	}
	scoreText := "  - no score data"
	if len(scoreLines) > 0 {
		scoreText = strings.Join(scoreLines, "\n")
	}

	return fmt.Sprintf(
		"# Match info\n- Tournament: %s\n- Round: %s\n- Date: %s\n- Status: %s\n- %s (%s) vs %s (%s)\n- Score:\n%s",
		data.Tournament, data.Round, data.Date, data.Status,
		p1, data.Player1.Nation, p2, data.Player2.Nation, scoreText)
}

func renderPlayerStats(raw json.RawMessage) string {
	var data struct {
		PlayerName   string `json:"player_name"`
		TotalShots   int    `json:"total_shots"`
		WinningShots int    `json:"winning_shots"`
		Errors       int    `json:"errors"`
		RallyWins    int    `json:"rally_wins"`
		RallyLosses  int    `json:"rally_losses"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Msg("player stats payload did not render")
		return ""
	}

	name := data.PlayerName
	if name == "" {
		name = "Player"
	}

	var winRate, errorRate float64
	if data.TotalShots > 0 {
		winRate = float64(data.WinningShots) / float64(data.TotalShots) * 100
		errorRate = float64(data.Errors) / float64(data.TotalShots) * 100
	}

	return fmt.Sprintf(
		"# %s statistics\n- Total shots: %d\n- Winners: %d (%.1f%%)\n- Errors: %d (%.1f%%)\n- Rallies won: %d, lost: %d",
		name, data.TotalShots, data.WinningShots, winRate, data.Errors, errorRate,
		data.RallyWins, data.RallyLosses)
}

func renderShotDistribution(raw json.RawMessage) string {
	var data struct {
		Shots []struct {
			Type    string `json:"type"`
			Count   int    `json:"count"`
			Success int    `json:"success"`
		} `json:"shots"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Msg("shot distribution payload did not render")
		return ""
	}
	if len(data.Shots) == 0 {
		return ""
	}

	lines := []string{"# Shot distribution"}
	for _, shot := range data.Shots {
		var rate float64
		if shot.Count > 0 {
			rate = float64(shot.Success) / float64(shot.Count) * 100
		}
		lines = append(lines, fmt.Sprintf("- %s: %d (success %d, %.1f%%)", shot.Type, shot.Count, shot.Success, rate))
	}
	return strings.Join(lines, "\n")
}

func renderRallyAnalysis(raw json.RawMessage) string {
	var data struct {
		AvgRallyLength     float64 `json:"avg_rally_length"`
		MaxRallyLength     int     `json:"max_rally_length"`
		WinningRallyLength float64 `json:"winning_rally_length"`
		LosingRallyLength  float64 `json:"losing_rally_length"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Warn().Err(err).Msg("rally analysis payload did not render")
		return ""
	}

	return fmt.Sprintf(
		"# Rally analysis\n- Average rally length: %.1f shots\n- Longest rally: %d shots\n- Average winning rally: %.1f shots\n- Average losing rally: %.1f shots",
		data.AvgRallyLength, data.MaxRallyLength, data.WinningRallyLength, data.LosingRallyLength)
}
