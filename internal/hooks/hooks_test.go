package hooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHookManager(t *testing.T) {
	hm := NewHookManager(nil)
	require.NotNil(t, hm)
	assert.Equal(t, DefaultSessionLearningConfig(), hm.Config())
}

func TestRegisterHandler(t *testing.T) {
	ctx := context.Background()
	hm := NewHookManager(nil)

	var order []string
	hm.RegisterHandler(HookSessionStart, func(ctx context.Context, p *Payload) error {
		order = append(order, "first:"+p.SessionID)
		return nil
	})
	hm.RegisterHandler(HookSessionStart, func(ctx context.Context, p *Payload) error {
		order = append(order, "second")
		return nil
	})

	err := hm.Execute(ctx, &Payload{SessionID: "s1", HookEventName: HookSessionStart})
	require.NoError(t, err)
	assert.Equal(t, []string{"first:s1", "second"}, order)
}

func TestExecuteHook_NoHandler(t *testing.T) {
	hm := NewHookManager(nil)
	err := hm.Execute(context.Background(), &Payload{SessionID: "s1", HookEventName: HookStop})
	assert.NoError(t, err)
}

func TestExecuteHook_HandlerError(t *testing.T) {
	hm := NewHookManager(nil)
	boom := errors.New("boom")
	called := false
	hm.RegisterHandler(HookStop, func(context.Context, *Payload) error { return boom })
	hm.RegisterHandler(HookStop, func(context.Context, *Payload) error {
		called = true
		return nil
	})

	err := hm.Execute(context.Background(), &Payload{SessionID: "s1", HookEventName: HookStop})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook Stop failed")
	assert.False(t, called, "handlers after a failure do not run")
}

func TestParseHookType(t *testing.T) {
	tests := []struct {
		in      string
		want    HookType
		wantErr bool
	}{
		{"PreToolUse", HookPreToolUse, false},
		{"pretooluse", HookPreToolUse, false},
		{"SESSIONEND", HookSessionEnd, false},
		{"UserPromptSubmit", HookUserPromptSubmit, false},
		{"BeforeClear", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHookType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionLearningConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SessionLearningConfig)
		wantErr string
	}{
		{"defaults", func(*SessionLearningConfig) {}, ""},
		{"negative min tool uses", func(c *SessionLearningConfig) { c.MinToolUses = -1 }, "min_tool_uses"},
		{"negative max", func(c *SessionLearningConfig) { c.MaxRecommendations = -1 }, "max_recommendations"},
		{"threshold above one", func(c *SessionLearningConfig) { c.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"threshold below zero", func(c *SessionLearningConfig) { c.ConfidenceThreshold = -0.1 }, "confidence_threshold"},
		{"unknown target", func(c *SessionLearningConfig) { c.UpdateTargets = []string{"memories", "wiki"} }, "wiki"},
		{"empty targets", func(c *SessionLearningConfig) { c.UpdateTargets = nil }, ""},
		{"negative friction", func(c *SessionLearningConfig) { c.FrictionThreshold = -time.Second }, "friction_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSessionLearningConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSessionLearningConfig_Targets(t *testing.T) {
	cfg := DefaultSessionLearningConfig()
	cfg.UpdateTargets = []string{TargetMemories}
	assert.True(t, cfg.Targets(TargetMemories))
	assert.False(t, cfg.Targets(TargetSkills))
}

func TestParsePayload(t *testing.T) {
	in := `{
		"session_id": "abc",
		"hook_event_name": "pretooluse",
		"cwd": "/repo",
		"tool_name": "Edit",
		"tool_input": {"file_path": "/repo/config.py", "old_string": "a"},
		"extra_field": true
	}`
	p, err := ParsePayload(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "abc", p.SessionID)
	assert.Equal(t, HookPreToolUse, p.HookEventName)
	assert.Equal(t, "/repo/config.py", p.FilePath())
	assert.Empty(t, p.Command())
	assert.Empty(t, p.CompletedSkill())
}

func TestParsePayload_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"missing session": `{"hook_event_name":"Stop"}`,
		"unknown hook":    `{"session_id":"a","hook_event_name":"Nope"}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestPayload_Accessors(t *testing.T) {
	bash := &Payload{ToolName: "Bash", ToolInput: map[string]any{"command": "go test ./..."}}
	assert.Equal(t, "go test ./...", bash.Command())

	grep := &Payload{ToolName: "Grep", ToolInput: map[string]any{"pattern": "TODO", "path": "internal"}}
	assert.Equal(t, "TODO", grep.Query())
	assert.Equal(t, "internal", grep.FilePath())

	notBash := &Payload{ToolName: "Edit", ToolInput: map[string]any{"command": "x"}}
	assert.Empty(t, notBash.Command())
}

func TestPayload_CompletedSkill(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want string
	}{
		{"skill tool", Payload{HookEventName: HookPostToolUse, ToolName: "Skill", ToolInput: map[string]any{"skill": "brainstorming"}}, "brainstorming"},
		{"skill tool pre", Payload{HookEventName: HookPreToolUse, ToolName: "Skill", ToolInput: map[string]any{"name": "tdd"}}, "tdd"},
		{"slash command tool", Payload{HookEventName: HookPostToolUse, ToolName: "SlashCommand", ToolInput: map[string]any{"command": "/verify --all"}}, "verify"},
		{"prompt command", Payload{HookEventName: HookUserPromptSubmit, Prompt: "  /brainstorm the login flow"}, "brainstorm"},
		{"plain prompt", Payload{HookEventName: HookUserPromptSubmit, Prompt: "please fix"}, ""},
		{"other tool", Payload{HookEventName: HookPostToolUse, ToolName: "Edit"}, ""},
		{"stop", Payload{HookEventName: HookStop, ToolName: "Skill", ToolInput: map[string]any{"skill": "x"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.CompletedSkill())
		})
	}
}
