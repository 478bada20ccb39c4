package learning

import (
	"context"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reqgate/internal/requirements"
)

const (
	minLookups      = 3
	minWorkflowLen  = 3
	maxWorkflowLen  = 5
	minOccurrences  = 2
	minReopens      = 2
	maxEvidenceRows = 10
)

// detector finds one kind of pattern in a session.
type detector struct {
	name string
	run  func(ctx context.Context, in *input) ([]Recommendation, error)
}

func defaultDetectors() []detector {
	return []detector{
		{name: string(PatternRepeatedLookup), run: detectRepeatedLookups},
		{name: string(PatternWorkflow), run: detectWorkflows},
		{name: string(PatternFriction), run: detectFriction},
	}
}

func evidenceLine(tool, what string, at time.Time) string {
	if what == "" {
		return fmt.Sprintf("%s at %s", tool, at.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s %s at %s", tool, what, at.UTC().Format(time.RFC3339))
}

func capEvidence(rows []string) []string {
	if len(rows) <= maxEvidenceRows {
		return rows
	}
	out := append([]string(nil), rows[:maxEvidenceRows]...)
	return append(out, fmt.Sprintf("... and %d more", len(rows)-maxEvidenceRows))
}

// lookupTopic is the file or query a tool event refers to.
func lookupTopic(toolName, filePath, query string) string {
	if toolName == "" {
		return ""
	}
	if filePath != "" {
		return path.Clean(filepath.ToSlash(filePath))
	}
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func detectRepeatedLookups(ctx context.Context, in *input) ([]Recommendation, error) {
	type refs struct {
		tools    map[string]int
		evidence []string
	}
	byTopic := make(map[string]*refs)
	var order []string
	for _, e := range in.session.Events {
		if e.Blocked {
			continue
		}
		topic := lookupTopic(e.ToolName, e.FilePath, e.Query)
		if topic == "" {
			continue
		}
		r, ok := byTopic[topic]
		if !ok {
			r = &refs{tools: make(map[string]int)}
			byTopic[topic] = r
			order = append(order, topic)
		}
		r.tools[e.ToolName]++
		r.evidence = append(r.evidence, evidenceLine(e.ToolName, topic, e.Timestamp))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []Recommendation
	for _, topic := range order {
		r := byTopic[topic]
		n := len(r.evidence)
		if n < minLookups {
			continue
		}
		target := "memories/" + slug(topic) + ".md"
		if in.history.activeTarget(target) {
			continue
		}
		recs = append(recs, Recommendation{
			Category:       CategoryMemory,
			Pattern:        PatternRepeatedLookup,
			TargetArtifact: target,
			Title:          fmt.Sprintf("Remember %s", topic),
			Content:        lookupContent(topic, n, r.tools, in.session.SessionID),
			Confidence:     math.Min(0.95, 0.5+0.1*float64(n)),
			SourceSession:  in.session.SessionID,
			Evidence:       capEvidence(r.evidence),
		})
	}
	return recs, nil
}

func lookupContent(topic string, n int, tools map[string]int, session string) string {
	names := make([]string, 0, len(tools))
	for t := range tools {
		names = append(names, t)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, t := range names {
		parts = append(parts, fmt.Sprintf("%s x%d", t, tools[t]))
	}
	return fmt.Sprintf("## %s\n\nLooked up %d times in session %s (%s).\nRecord what %s holds and where it is used so the next session starts from here.\n",
		topic, n, session, strings.Join(parts, ", "), topic)
}

// step is one tool use in workflow detection. Bash steps are labeled with
// the head of their command so distinct commands are distinct steps.
type step struct {
	label   string
	tool    string
	command string
	target  string
}

func commandHead(cmd string) string {
	f := strings.Fields(cmd)
	if len(f) > 2 {
		f = f[:2]
	}
	return strings.Join(f, " ")
}

func sessionSteps(in *input) []step {
	var steps []step
	for _, e := range in.session.Events {
		// a refused tool never ran, so its retry is not a second step
		if e.ToolName == "" || e.Blocked {
			continue
		}
		s := step{label: e.ToolName, tool: e.ToolName, command: e.Command, target: e.FilePath}
		if s.target == "" {
			s.target = e.Query
		}
		if e.ToolName == "Bash" && e.Command != "" {
			s.label = "Bash(" + commandHead(e.Command) + ")"
		}
		steps = append(steps, s)
	}
	return steps
}

type workflow struct {
	labels []string
	occ    int
	first  int
}

func equalSeq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uniform(seq []string) bool {
	for _, s := range seq[1:] {
		if s != seq[0] {
			return false
		}
	}
	return true
}

// occurrences counts non-overlapping matches of seq, scanning left to right.
func occurrences(labels, seq []string) int {
	n := 0
	for i := 0; i+len(seq) <= len(labels); {
		if equalSeq(labels[i:i+len(seq)], seq) {
			n++
			i += len(seq)
			continue
		}
		i++
	}
	return n
}

func containsSeq(long, short []string) bool {
	for i := 0; i+len(short) <= len(long); i++ {
		if equalSeq(long[i:i+len(short)], short) {
			return true
		}
	}
	return false
}

func isRotation(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	doubled := append(append([]string(nil), a...), a...)
	return containsSeq(doubled, b)
}

// suppressed reports whether seq only restates an already reported workflow:
// a sub-sequence of a longer one seen equally often, or a rotation of one
// seen at least as often.
func suppressed(reported []workflow, seq []string, occ int) bool {
	for _, w := range reported {
		if len(w.labels) > len(seq) && w.occ == occ && containsSeq(w.labels, seq) {
			return true
		}
		if len(w.labels) == len(seq) && w.occ >= occ && isRotation(w.labels, seq) {
			return true
		}
	}
	return false
}

func detectWorkflows(ctx context.Context, in *input) ([]Recommendation, error) {
	steps := sessionSteps(in)
	labels := make([]string, len(steps))
	for i, s := range steps {
		labels[i] = s.label
	}

	var reported []workflow
	for n := maxWorkflowLen; n >= minWorkflowLen; n-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for i := 0; i+n <= len(labels); i++ {
			seq := labels[i : i+n]
			key := strings.Join(seq, "\x00")
			if seen[key] {
				continue
			}
			seen[key] = true
			if uniform(seq) {
				continue
			}
			occ := occurrences(labels, seq)
			if occ < minOccurrences || suppressed(reported, seq, occ) {
				continue
			}
			reported = append(reported, workflow{labels: seq, occ: occ, first: i})
		}
	}

	recs := make([]Recommendation, 0, len(reported))
	for _, w := range reported {
		recs = append(recs, workflowRecommendation(in, steps[w.first:w.first+len(w.labels)], w))
	}
	return recs, nil
}

func workflowRecommendation(in *input, steps []step, w workflow) Recommendation {
	allBash := true
	for _, s := range steps {
		if s.tool != "Bash" {
			allBash = false
			break
		}
	}
	confidence := math.Min(0.95, 0.4+0.05*float64(len(w.labels))+0.1*float64(w.occ))
	evidence := []string{fmt.Sprintf("sequence %s seen %d times", strings.Join(w.labels, " -> "), w.occ)}

	if allBash {
		heads := make([]string, len(steps))
		var body strings.Builder
		for i, s := range steps {
			heads[i] = commandHead(s.command)
			fmt.Fprintf(&body, "%d. `%s`\n", i+1, s.command)
		}
		name := slug(strings.Join(heads, " "))
		return Recommendation{
			Category:       CategoryCommand,
			Pattern:        PatternWorkflow,
			TargetArtifact: "commands/" + name + ".md",
			Title:          fmt.Sprintf("Add command %s", name),
			Content: fmt.Sprintf("---\ndescription: Run %s\n---\n\nRun these steps in order:\n\n%s",
				strings.Join(heads, ", then "), body.String()),
			Confidence:    confidence,
			SourceSession: in.session.SessionID,
			Evidence:      evidence,
		}
	}

	name := slug(strings.Join(w.labels, " "))
	var body strings.Builder
	for i, s := range steps {
		switch {
		case s.command != "":
			fmt.Fprintf(&body, "%d. %s `%s`\n", i+1, s.tool, s.command)
		case s.target != "":
			fmt.Fprintf(&body, "%d. %s %s\n", i+1, s.tool, s.target)
		default:
			fmt.Fprintf(&body, "%d. %s\n", i+1, s.tool)
		}
	}
	return Recommendation{
		Category:       CategorySkill,
		Pattern:        PatternWorkflow,
		TargetArtifact: "skills/" + name + "/SKILL.md",
		Title:          fmt.Sprintf("Capture workflow %s", name),
		Content: fmt.Sprintf("---\nname: %s\ndescription: Recurring workflow seen %d times in session %s\n---\n\n%s",
			name, w.occ, in.session.SessionID, body.String()),
		Confidence:    confidence,
		SourceSession: in.session.SessionID,
		Evidence:      evidence,
	}
}

func detectFriction(ctx context.Context, in *input) ([]Recommendation, error) {
	type track struct {
		opens     int
		firstOpen time.Time
		resolved  time.Time
		evidence  []string
	}
	byKey := make(map[string]*track)
	var keys []string
	var last time.Time
	for _, e := range in.session.Events {
		last = e.Timestamp
		for _, tr := range e.Effects {
			t, ok := byKey[tr.Key]
			if !ok {
				t = &track{}
				byKey[tr.Key] = t
				keys = append(keys, tr.Key)
			}
			switch {
			case tr.To == requirements.StatusOpen:
				t.opens++
				if t.firstOpen.IsZero() {
					t.firstOpen = e.Timestamp
				}
				t.evidence = append(t.evidence, evidenceLine("opened", tr.Key, e.Timestamp))
			case tr.To.Terminal():
				if !t.firstOpen.IsZero() && t.resolved.IsZero() {
					t.resolved = e.Timestamp
				}
				t.evidence = append(t.evidence, evidenceLine(string(tr.To), tr.Key+" by "+tr.Actor, e.Timestamp))
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	threshold := in.cfg.FrictionThreshold
	sort.Strings(keys)
	var recs []Recommendation
	for _, key := range keys {
		t := byKey[key]
		if t.firstOpen.IsZero() {
			continue
		}
		end := t.resolved
		if end.IsZero() {
			end = last
		}
		waited := end.Sub(t.firstOpen)

		var confidence float64
		var why []string
		// The first open is the requirement's normal trigger; only later ones count.
		if reopens := t.opens - 1; reopens >= minReopens {
			confidence = math.Max(confidence, math.Min(0.9, 0.5+0.15*float64(reopens)))
			why = append(why, fmt.Sprintf("was re-opened %d times", reopens))
		}
		if threshold > 0 && waited > threshold {
			ratio := float64(waited) / float64(threshold)
			confidence = math.Max(confidence, math.Min(0.9, 0.5+0.1*ratio))
			why = append(why, fmt.Sprintf("took %s to satisfy (threshold %s)", waited.Round(time.Second), threshold))
		}
		if len(why) == 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Category:       CategoryMemory,
			Pattern:        PatternFriction,
			TargetArtifact: "memories/requirements/" + slug(key) + ".md",
			Title:          fmt.Sprintf("Requirement %s slowed the session", key),
			Content: fmt.Sprintf("## %s\n\nIn session %s this requirement %s.\nSatisfy it early on new branches before editing code.\n",
				key, in.session.SessionID, strings.Join(why, " and ")),
			Confidence:    confidence,
			SourceSession: in.session.SessionID,
			Evidence:      capEvidence(t.evidence),
			Advisory:      true,
		})
	}
	return recs, nil
}
