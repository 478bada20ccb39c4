package learning

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/sessions"
)

// Report is the result of analyzing one session.
type Report struct {
	SessionID       string           `json:"session_id"`
	Recommendations []Recommendation `json:"recommendations"`

	// Warnings name detectors that failed; the others still ran.
	Warnings []string `json:"warnings,omitempty"`

	// Skipped is set when the session was too small to analyze.
	Skipped string `json:"skipped,omitempty"`

	// Discarded counts candidates removed by target, threshold, or limit.
	Discarded int `json:"discarded"`
}

type input struct {
	session *sessions.Metrics
	history *HistoryView
	cfg     *hooks.SessionLearningConfig
}

// Analyze finds recommendations in a session. It is deterministic for the
// same inputs and has no side effects. Recommendation ids start at
// history.StartID.
func Analyze(ctx context.Context, m *sessions.Metrics, history *HistoryView, cfg *hooks.SessionLearningConfig) (*Report, error) {
	return analyze(ctx, m, history, cfg, defaultDetectors())
}

func analyze(ctx context.Context, m *sessions.Metrics, history *HistoryView, cfg *hooks.SessionLearningConfig, detectors []detector) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("analyze: session metrics are required")
	}
	if cfg == nil {
		cfg = hooks.DefaultSessionLearningConfig()
	}
	if history == nil {
		history = &HistoryView{}
	}

	report := &Report{SessionID: m.SessionID, Recommendations: []Recommendation{}}
	if len(m.Events) < cfg.MinToolUses {
		report.Skipped = fmt.Sprintf("session has %d events, below min_tool_uses %d", len(m.Events), cfg.MinToolUses)
		return report, nil
	}

	in := &input{session: m, history: history, cfg: cfg}
	results := make([][]Recommendation, len(detectors))
	errs := make([]error, len(detectors))

	var g errgroup.Group
	for i, d := range detectors {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			results[i], errs[i] = d.run(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []Recommendation
	for i, d := range detectors {
		if errs[i] != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s detector failed: %v", d.name, errs[i]))
			continue
		}
		candidates = append(candidates, results[i]...)
	}

	kept := make([]Recommendation, 0, len(candidates))
	for _, rec := range candidates {
		rec.Confidence = math.Round(rec.Confidence*100) / 100
		if !cfg.Targets(rec.Category.Target()) || rec.Confidence < cfg.ConfidenceThreshold {
			report.Discarded++
			continue
		}
		kept = append(kept, rec)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Pattern != b.Pattern {
			return a.Pattern < b.Pattern
		}
		return a.TargetArtifact < b.TargetArtifact
	})
	if limit := cfg.MaxRecommendations; limit > 0 && len(kept) > limit {
		report.Discarded += len(kept) - limit
		kept = kept[:limit]
	}
	for i := range kept {
		kept[i].ID = history.StartID + uint64(i)
	}
	report.Recommendations = kept
	return report, nil
}
