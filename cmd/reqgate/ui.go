package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/engine"
	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
	"github.com/fyrsmithlabs/reqgate/internal/sessions"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	keyStyle    = lipgloss.NewStyle().Width(24)
)

const (
	iconPass = "✓"
	iconWarn = "⚠"
	iconFail = "✗"
	iconSkip = "-"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderError(err error) string {
	return failStyle.Render("error: ") + err.Error()
}

func statusIcon(st requirements.Status, sev config.Severity) string {
	switch st {
	case requirements.StatusSatisfied:
		return passStyle.Render(iconPass)
	case requirements.StatusSkipped:
		return mutedStyle.Render(iconSkip)
	}
	if sev == config.SeverityAdvisory {
		return warnStyle.Render(iconWarn)
	}
	return failStyle.Render(iconFail)
}

func renderStatus(w io.Writer, branch string, rows []engine.RequirementStatus) {
	fmt.Fprintln(w, headerStyle.Render("Requirements on "+branch))
	if len(rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no requirements configured"))
		return
	}
	for _, r := range rows {
		detail := string(r.Status)
		switch {
		case r.Status == requirements.StatusSatisfied && r.SatisfiedBy != "":
			detail += " by " + r.SatisfiedBy
		case r.Status == requirements.StatusSkipped && r.Reason != "":
			detail += ": " + r.Reason
		case r.Status == requirements.StatusOpen:
			detail = r.Message
		}
		scope := ""
		if r.Scope == config.ScopeSession {
			scope = mutedStyle.Render(" (session)")
		}
		fmt.Fprintf(w, "  %s %s %s%s\n", statusIcon(r.Status, r.Severity), keyStyle.Render(r.Key), detail, scope)
	}
}

// renderWarnings prints advisory requirement warnings for an allowed action.
func renderWarnings(w io.Writer, d *gate.Decision) {
	if len(d.Warnings) > 0 {
		fmt.Fprintln(w, warnStyle.Render(iconWarn+" ")+d.Warning())
	}
}

func renderRecommendations(w io.Writer, title string, recs []learning.Recommendation) {
	fmt.Fprintln(w, headerStyle.Render(title))
	if len(recs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  none"))
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "  #%-4d %s %s\n", r.ID, r.Title, mutedStyle.Render(fmt.Sprintf("[%s %.2f]", r.Category, r.Confidence)))
		fmt.Fprintf(w, "        %s\n", mutedStyle.Render("→ "+r.TargetArtifact))
		if r.Advisory {
			fmt.Fprintf(w, "        %s\n", warnStyle.Render("advisory: review before applying"))
		}
	}
}

func renderReport(w io.Writer, r *learning.Report) {
	if r == nil {
		fmt.Fprintln(w, mutedStyle.Render("session learning is disabled"))
		return
	}
	if r.Skipped != "" {
		fmt.Fprintln(w, mutedStyle.Render("analysis skipped: "+r.Skipped))
		return
	}
	for _, warn := range r.Warnings {
		fmt.Fprintln(w, warnStyle.Render(iconWarn+" "+warn))
	}
	renderRecommendations(w, fmt.Sprintf("Recommendations for session %s", r.SessionID), r.Recommendations)
}

func renderEntries(w io.Writer, entries []learning.Entry) {
	fmt.Fprintln(w, headerStyle.Render("Learning history"))
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  empty"))
		return
	}
	for _, e := range entries {
		icon := passStyle.Render(iconPass)
		if e.Status == learning.StatusRolledBack {
			icon = mutedStyle.Render(iconSkip)
		}
		fmt.Fprintf(w, "  %s %s #%d %s %s\n", icon, e.ID, e.RecommendationID, e.TargetArtifact,
			mutedStyle.Render(fmt.Sprintf("%s by %s %s", e.Status, e.Approver, e.AppliedAt.Format(time.RFC3339))))
	}
}

func renderStats(w io.Writer, s *learning.Stats) {
	fmt.Fprintln(w, headerStyle.Render("Session learning"))
	state := passStyle.Render("enabled")
	if s.Disabled {
		state = warnStyle.Render("disabled")
	}
	fmt.Fprintf(w, "  %s %s\n", keyStyle.Render("state"), state)
	for _, row := range []struct {
		label string
		n     int
	}{
		{"analyzed sessions", s.AnalyzedSessions},
		{"proposed", s.Proposed},
		{"pending", s.Pending},
		{"applied", s.Applied},
		{"rolled back", s.RolledBack},
	} {
		fmt.Fprintf(w, "  %s %d\n", keyStyle.Render(row.label), row.n)
	}
	cats := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(w, "  %s %d\n", keyStyle.Render("  "+c), s.ByCategory[learning.Category(c)])
	}
}

func renderSessions(w io.Writer, list []sessions.Summary) {
	fmt.Fprintln(w, headerStyle.Render("Sessions"))
	if len(list) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  none recorded"))
		return
	}
	for _, s := range list {
		state := passStyle.Render("open")
		if s.SealedAt != nil {
			state = mutedStyle.Render("sealed")
		}
		fmt.Fprintf(w, "  %s %s %s\n", keyStyle.Render(s.SessionID), state,
			mutedStyle.Render(fmt.Sprintf("%d events on %s", s.Events, s.Branch)))
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, strings.TrimSuffix(word, "s"))
}
