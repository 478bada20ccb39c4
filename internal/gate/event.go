package gate

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

// DetachedBranch stands in for the branch when none is known.
const DetachedBranch = "HEAD"

// Event is one tool invocation as seen by the gate.
type Event struct {
	SessionID string         `json:"session_id"`
	Branch    string         `json:"branch"`
	Hook      hooks.HookType `json:"hook"`
	ToolName  string         `json:"tool_name,omitempty"`
	FilePath  string         `json:"file_path,omitempty"`
	Query     string         `json:"query,omitempty"`
	Command   string         `json:"command,omitempty"`

	// Skill is the skill or command this event completes, if any.
	Skill     string    `json:"skill,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FromPayload converts a hook payload into a gate event. File paths inside
// the payload's working directory are made relative to it so path globs
// match repository-relative paths.
func FromPayload(p *hooks.Payload, branch string, now time.Time) Event {
	if branch == "" {
		branch = p.Branch
	}
	if branch == "" {
		branch = DetachedBranch
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return Event{
		SessionID: p.SessionID,
		Branch:    branch,
		Hook:      p.HookEventName,
		ToolName:  p.ToolName,
		FilePath:  relativePath(p.CWD, p.FilePath()),
		Query:     p.Query(),
		Command:   p.Command(),
		Skill:     p.CompletedSkill(),
		Timestamp: ts.UTC(),
	}
}

func relativePath(cwd, path string) string {
	if path == "" || cwd == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
