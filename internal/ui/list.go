package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/tasks"
)

var _ list.Item = resultItem{}

// resultItem wraps [tasks.UserResult] to implement [list.Item].
type resultItem struct {
	result tasks.UserResult
}

func (i resultItem) FilterValue() string { return i.result.Username }

func (i resultItem) Title() string {
	mark := "✗ "
	switch i.result.Outcome {
	case models.Resolved:
		mark = "✓ "
	case models.Skipped:
		mark = "- "
	}
	return Outcome(i.result.Outcome, mark) + i.result.Username
}

func (i resultItem) Description() string {
	c := i.result.Counts
	desc := fmt.Sprintf("%d applied • %d gated • %d missing • %d failed", c.Applied, c.Gated, c.Missing, c.Failed)
	if i.result.Message != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.result.Message)
	}
	return desc
}

func resultItems(report *tasks.RunReport) []list.Item {
	if report == nil {
		return nil
	}
	items := make([]list.Item, len(report.Results))
	for i, r := range report.Results {
		items[i] = resultItem{result: r}
	}
	return items
}
