package sink

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/recallhq/distill/pkg/blackboard"
)

func TestConsoleRendersSuggestion(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	render := Console(&buf)

	render("Book dentist appointment", blackboard.DueThisWeek, []string{"my tooth aches", "  "})

	out := buf.String()
	assert.Contains(t, out, "• Book dentist appointment [This Week]")
	assert.Contains(t, out, `"my tooth aches"`)
	assert.NotContains(t, out, `""`, "blank evidence snippets are skipped")
}
