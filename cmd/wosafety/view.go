package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/review"
)

var (
	colorSuccess = lipgloss.Color("#93b56b")
	colorInfo    = lipgloss.Color("#61afaf")
	colorWarning = lipgloss.Color("#f5b761")
	colorError   = lipgloss.Color("#d95f5f")
	colorMuted   = lipgloss.Color("#5c5044")

	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

func indicatorColor(ind render.Indicator) lipgloss.Color {
	switch ind {
	case render.IndicatorSuccess:
		return colorSuccess
	case render.IndicatorInfo:
		return colorInfo
	case render.IndicatorWarning:
		return colorWarning
	default:
		return colorError
	}
}

// renderHeader draws the work order summary panel.
func renderHeader(v review.View) string {
	wo := v.WorkOrder
	badge := lipgloss.NewStyle().Foreground(indicatorColor(v.Indicator)).Bold(true).Render(wo.Status)

	lines := []string{
		titleStyle.Render(fmt.Sprintf("Work order %s", wo.ID)) + "  " + badge,
		wo.Description,
		labelStyle.Render("Priority: ") + wo.Priority,
		labelStyle.Render("Asset: ") + wo.AssetID,
		labelStyle.Render("Window: ") + wo.ScheduledStart + " to " + wo.ScheduledFinish,
	}
	if v.Map != nil {
		loc := v.Map.Description
		if v.Map.Available {
			loc += fmt.Sprintf(" (%.4f, %.4f)", v.Map.Center[1], v.Map.Center[0])
		}
		lines = append(lines, labelStyle.Render("Location: ")+loc)
	}
	if v.Error != "" {
		lines = append(lines, errorStyle.Render(v.Error))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// renderHazards draws the hazards found near the work order.
func renderHazards(v review.View) string {
	if !v.HazardsChecked {
		return ""
	}
	if v.Map == nil || len(v.Map.Markers) == 0 {
		return panelStyle.Render(titleStyle.Render("Nearby hazards") + "\nNone found.")
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("Nearby hazards (%d)", len(v.Map.Markers)))}
	for _, m := range v.Map.Markers {
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(m.Color)).Render("●")
		lines = append(lines, fmt.Sprintf("%s %s", dot, m.Label))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// renderResult draws the response section in its final form.
func renderResult(v review.View) string {
	body := v.Response
	if v.WorkOrder.SafetyCheckPerformedAt != "" {
		body += "\n\n" + labelStyle.Render("Performed at "+v.WorkOrder.SafetyCheckPerformedAt)
	}
	return panelStyle.Render(titleStyle.Render("Safety check") + "\n" + body)
}
