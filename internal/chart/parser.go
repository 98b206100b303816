package chart

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	blockRe    = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// Parse splits raw model output into prose and validated charts. It never
// fails: any anomaly degrades to "all text, no charts".
func Parse(content string) ParsedResponse {
	if strings.TrimSpace(content) == "" {
		return ParsedResponse{RawContent: content}
	}

	matches := blockRe.FindAllStringSubmatchIndex(content, -1)
	if matches == nil {
		return ParsedResponse{
			Text:       strings.TrimSpace(content),
			RawContent: content,
		}
	}

	var charts []Chart
	var recognized [][2]int

	for _, m := range matches {
		inner := content[m[2]:m[3]]
		blockCharts, ok := parseChartBlock(inner)
		if !ok {
			// Not a chart directive: plain JSON stays in the text verbatim.
			continue
		}
		charts = append(charts, blockCharts...)
		recognized = append(recognized, [2]int{m[0], m[1]})
	}

	text := removeSpans(content, recognized)

	if len(recognized) > 0 {
		log.Debug().
			Int("charts", len(charts)).
			Int("blocks", len(recognized)).
			Msg("parsed chart blocks from response")
	}

	return ParsedResponse{
		Text:       text,
		Charts:     charts,
		RawContent: content,
		HasCharts:  len(charts) > 0,
	}
}

// parseChartBlock returns the valid charts of one fenced JSON block. ok is
// false when the block is not a chart directive at all (unparseable JSON, no
// top-level charts key, or a non-array charts value); such blocks are left in
// the output text. A recognized block with zero valid entries still reports
// ok, so the block itself is removed.
func parseChartBlock(inner string) ([]Chart, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inner), &envelope); err != nil {
		log.Warn().Err(err).Msg("json block did not parse, leaving in text")
		return nil, false
	}

	rawCharts, found := envelope["charts"]
	if !found {
		return nil, false
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawCharts, &entries); err != nil {
		log.Warn().Msg("charts key is not an array, leaving block in text")
		return nil, false
	}

	valid := make([]Chart, 0, len(entries))
	for i, raw := range entries {
		var c Chart
		if err := json.Unmarshal(raw, &c); err != nil {
			log.Warn().Int("index", i).Err(err).Msg("chart entry dropped")
			continue
		}
		if !c.Valid() {
			log.Warn().Int("index", i).Str("type", c.Type).Msg("invalid chart dropped")
			continue
		}
		valid = append(valid, c)
	}
	return valid, true
}

func removeSpans(content string, spans [][2]int) string {
	if len(spans) == 0 {
		return strings.TrimSpace(content)
	}
	result := content
	for i := len(spans) - 1; i >= 0; i-- {
		result = result[:spans[i][0]] + result[spans[i][1]:]
	}
	result = newlinesRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}
