package content

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy = bluemonday.StrictPolicy()
)

// Plain strips every tag from message content and decodes entities, so the
// text can be written to a terminal as is.
func Plain(input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}

// Line is Plain folded onto one line.
func Line(input string) string {
	return strings.Join(strings.Fields(Plain(input)), " ")
}
