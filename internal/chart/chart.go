// Package chart splits raw LLM output into user-facing prose and validated
// chart objects. Models emit charts as fenced ```json blocks carrying a
// top-level "charts" array; fenced JSON without that key is illustrative and
// passes through untouched.
package chart

import (
	"strings"
)

// Allowed chart types.
const (
	TypeBar  = "bar"
	TypeLine = "line"
	TypePie  = "pie"
)

// Chart is a single renderable chart directive.
type Chart struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Data  Data   `json:"data"`
}

// Data holds the labels and series of a chart.
type Data struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one named series. Its data length must equal the chart's label
// count.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// Valid checks every chart invariant. A chart failing any check is discarded
// entirely, never repaired.
func (c Chart) Valid() bool {
	switch c.Type {
	case TypeBar, TypeLine, TypePie:
	default:
		return false
	}
	if strings.TrimSpace(c.Title) == "" {
		return false
	}
	if len(c.Data.Labels) == 0 || len(c.Data.Datasets) == 0 {
		return false
	}
	for _, ds := range c.Data.Datasets {
		if strings.TrimSpace(ds.Label) == "" {
			return false
		}
		if len(ds.Data) == 0 || len(ds.Data) != len(c.Data.Labels) {
			return false
		}
	}
	return true
}

// ParsedResponse is the result of parsing one raw model output. RawContent is
// the unmodified input and is what gets persisted into session history; Text
// and Charts are derived presentation views.
type ParsedResponse struct {
	Text       string  `json:"text"`
	Charts     []Chart `json:"charts"`
	RawContent string  `json:"raw_content"`
	HasCharts  bool    `json:"has_charts"`
}
