// Package render turns streamed fragments and stored safety-check results
// into markdown for display.
package render

import (
	"log/slog"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/wosafety/internal/types"
)

// Messages shown in place of a safety-check result.
const (
	WaitingMessage  = "Waiting for response..."
	NoResultMessage = "No safety check response available."
)

// Markdown joins the fragments in order. The placeholder contributes nothing.
func Markdown(frags []types.Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		if f.Index == types.PlaceholderIndex {
			continue
		}
		b.WriteString(f.Content)
	}
	return b.String()
}

var degreeEscapes = strings.NewReplacer(
	`\u00b0C`, "°C",
	`\u00B0C`, "°C",
	`\u00b0`, "°",
	`\u00B0`, "°",
)

// SanitizeStored strips the escape artifacts a stored result picks up from
// double encoding: one surrounding pair of quotes, literal \n sequences and
// escaped degree signs.
func SanitizeStored(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.ReplaceAll(s, `\n`, "")
	return degreeEscapes.Replace(s)
}

// StoredResult sanitizes a stored result and converts its HTML to markdown.
// If conversion fails the sanitized text is returned unchanged.
func StoredResult(s string) string {
	clean := SanitizeStored(s)
	if clean == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(clean)
	if err != nil {
		slog.Debug("stored result conversion failed", "error", err)
		return clean
	}
	return strings.TrimSpace(md)
}

// Indicator is the status badge type of a work order.
type Indicator string

const (
	IndicatorSuccess Indicator = "success"
	IndicatorInfo    Indicator = "info"
	IndicatorWarning Indicator = "warning"
	IndicatorError   Indicator = "error"
)

func StatusIndicator(status string) Indicator {
	switch status {
	case "Approved":
		return IndicatorSuccess
	case "In Progress":
		return IndicatorInfo
	case "Pending":
		return IndicatorWarning
	default:
		return IndicatorError
	}
}
