// Package action derives discrete position recommendations from theme
// scores and the configured thresholds.
package action

import (
	"fmt"

	"github.com/pulsemkt/themescore/internal/config"
	"github.com/pulsemkt/themescore/internal/score"
)

// Action is the recommendation kind.
type Action string

const (
	ActionIncrease Action = "increase"
	ActionTrim     Action = "trim"
	// ActionHold exists for consumers that render an explicit neutral
	// stance; Generate never emits it.
	ActionHold Action = "hold"
)

// Item is one recommendation for one theme.
type Item struct {
	Action Action `json:"action"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Generate is a pure function of the scores and thresholds. Themes in the
// neutral band produce no item. Output order follows the theme order of the
// input, which the scorer keeps aligned with the config, so the document is
// deterministic and diffable across runs.
func Generate(themes []score.ThemeScore, thresholds config.Thresholds) []Item {
	var items []Item
	for _, theme := range themes {
		switch {
		case theme.Total >= thresholds.ActionAdd:
			items = append(items, Item{
				Action: ActionIncrease,
				Name:   theme.Name,
				Reason: fmt.Sprintf("total %.0f at or above add threshold %.0f", theme.Total, thresholds.ActionAdd),
			})
		case theme.Total <= thresholds.ActionTrim:
			items = append(items, Item{
				Action: ActionTrim,
				Name:   theme.Name,
				Reason: fmt.Sprintf("total %.0f at or below trim threshold %.0f", theme.Total, thresholds.ActionTrim),
			})
		}
	}
	return items
}
