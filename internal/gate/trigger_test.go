package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

func TestMatches(t *testing.T) {
	base := Event{
		SessionID: "s", Branch: "feature/login", Hook: hooks.HookPreToolUse,
		ToolName: "Edit", FilePath: "internal/auth/login.go",
	}
	tests := []struct {
		name    string
		trigger config.Trigger
		mutate  func(e *Event)
		want    bool
	}{
		{"empty trigger matches pre tool use", config.Trigger{}, nil, true},
		{"empty trigger ignores post tool use", config.Trigger{}, func(e *Event) { e.Hook = hooks.HookPostToolUse }, false},
		{"hook listed", config.Trigger{Hooks: []string{"posttooluse"}}, func(e *Event) { e.Hook = hooks.HookPostToolUse }, true},
		{"tool match", config.Trigger{Tools: []string{"Write", "Edit"}}, nil, true},
		{"tool glob", config.Trigger{Tools: []string{"mcp__*"}}, func(e *Event) { e.ToolName = "mcp__github__create" }, true},
		{"tool miss", config.Trigger{Tools: []string{"Write"}}, nil, false},
		{"double star path", config.Trigger{Paths: []string{"internal/**/*.go"}}, nil, true},
		{"base name path", config.Trigger{Paths: []string{"*.go"}}, nil, true},
		{"path miss", config.Trigger{Paths: []string{"docs/**"}}, nil, false},
		{"path required but absent", config.Trigger{Paths: []string{"**"}}, func(e *Event) { e.FilePath = "" }, false},
		{"branch glob", config.Trigger{Branches: []string{"feature/*"}}, nil, true},
		{"branch miss", config.Trigger{Branches: []string{"release/*"}}, nil, false},
		{"excluded branch", config.Trigger{ExcludeBranches: []string{"feature/**"}}, nil, false},
		{"exclude other branch", config.Trigger{ExcludeBranches: []string{"main"}}, nil, true},
		{"command substring", config.Trigger{Commands: []string{"git push"}}, func(e *Event) { e.ToolName = "Bash"; e.Command = "git push origin HEAD" }, true},
		{"command miss", config.Trigger{Commands: []string{"git push"}}, func(e *Event) { e.Command = "go test" }, false},
		{"all fields and", config.Trigger{Tools: []string{"Edit"}, Paths: []string{"**/*.py"}}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			if tt.mutate != nil {
				tt.mutate(&ev)
			}
			assert.Equal(t, tt.want, Matches(tt.trigger, ev))
		})
	}
}

func TestSatisfies(t *testing.T) {
	r := config.Requirement{SatisfiedBy: []string{"brainstorming", "design-review"}}
	assert.True(t, satisfies(r, "brainstorming"))
	assert.True(t, satisfies(r, "Brainstorming"))
	assert.True(t, satisfies(r, "superpowers:brainstorming"))
	assert.False(t, satisfies(r, "brain"))
	assert.False(t, satisfies(r, ""))
}

func TestFromPayload(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &hooks.Payload{
		SessionID:     "s1",
		HookEventName: hooks.HookPostToolUse,
		CWD:           "/repo",
		ToolName:      "Skill",
		ToolInput:     map[string]any{"skill": "brainstorming", "path": "/repo/docs/design.md"},
	}
	ev := FromPayload(p, "feature/x", now)
	assert.Equal(t, "feature/x", ev.Branch)
	assert.Equal(t, "brainstorming", ev.Skill)
	assert.Equal(t, "docs/design.md", ev.FilePath)
	assert.Equal(t, now, ev.Timestamp)

	p.ToolInput = map[string]any{"file_path": "/elsewhere/x.go"}
	ev = FromPayload(p, "", now)
	assert.Equal(t, DetachedBranch, ev.Branch)
	assert.Equal(t, "/elsewhere/x.go", ev.FilePath)
}

func TestScopeFor(t *testing.T) {
	ev := Event{SessionID: "s1", Branch: "dev"}
	assert.Equal(t, "branch:dev", ScopeFor(config.Requirement{Scope: config.ScopeBranch}, ev))
	assert.Equal(t, "session:s1", ScopeFor(config.Requirement{Scope: config.ScopeSession}, ev))
	ev.Branch = ""
	assert.Equal(t, "branch:HEAD", ScopeFor(config.Requirement{}, ev))
}
