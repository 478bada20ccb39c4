package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/engine"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

const projectPolicy = `
requirements:
  design_approved:
    trigger: {tools: [Edit, Write]}
    satisfied_by: [brainstorming]
    message: design must be approved before editing code
logging:
  level: error
`

type result struct {
	stdout string
	stderr string
	err    error
}

func newProject(t *testing.T, policy string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".reqgate"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".reqgate", "config.yaml"), []byte(policy), 0o600))
	return root
}

func run(t *testing.T, root, stdin string, args ...string) result {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetArgs(append([]string{"--root", root, "--no-env"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func hookPayload(root, hook, tool string, input map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"session_id":      "s1",
		"cwd":             root,
		"hook_event_name": hook,
		"tool_name":       tool,
		"tool_input":      input,
	})
	return string(data)
}

func TestHook_BlocksThenAllows(t *testing.T) {
	root := newProject(t, projectPolicy)
	edit := hookPayload(root, "PreToolUse", "Edit", map[string]any{"file_path": filepath.Join(root, "main.go")})

	res := run(t, root, edit, "hook")
	require.ErrorIs(t, res.err, errBlocked)
	assert.Equal(t, exitBlocked, exitCode(res.err))
	assert.Contains(t, res.stderr, "design must be approved")

	var out engine.HookResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.True(t, out.Decision.Blocked())

	res = run(t, root, "", "satisfy", "design_approved", "--branch", "HEAD")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "design_approved satisfied")

	res = run(t, root, edit, "hook")
	require.NoError(t, res.err)
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.False(t, out.Decision.Blocked())
}

func TestHook_InvalidPayload(t *testing.T) {
	root := newProject(t, projectPolicy)
	res := run(t, root, `{"hook_event_name":"PreToolUse"}`, "hook")
	require.Error(t, res.err)
	assert.Equal(t, exitError, exitCode(res.err))
}

func TestStatusSkipReset(t *testing.T) {
	root := newProject(t, projectPolicy)

	res := run(t, root, "", "status", "--branch", "feature/x", "--json")
	require.NoError(t, res.err)
	var status struct {
		Branch       string                     `json:"branch"`
		Requirements []engine.RequirementStatus `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
	assert.Equal(t, "feature/x", status.Branch)
	require.Len(t, status.Requirements, 1)
	assert.Equal(t, "open", string(status.Requirements[0].Status))

	res = run(t, root, "", "skip", "design_approved", "--branch", "feature/x")
	require.Error(t, res.err, "--reason is required")

	res = run(t, root, "", "skip", "design_approved", "--branch", "feature/x", "--reason", "docs only")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "docs only")

	res = run(t, root, "", "status", "--branch", "feature/x")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "skipped: docs only")

	res = run(t, root, "", "reset", "--branch", "feature/x")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "reset 1 requirement on feature/x")

	res = run(t, root, "", "satisfy", "unknown_key")
	assert.ErrorIs(t, res.err, engine.ErrUnknownRequirement)
}

func TestLearningFlow(t *testing.T) {
	root := newProject(t, projectPolicy)
	read := hookPayload(root, "PreToolUse", "Read", map[string]any{"file_path": filepath.Join(root, "config.py")})
	for i := 0; i < 5; i++ {
		require.NoError(t, run(t, root, read, "hook").err)
	}

	res := run(t, root, "", "session", "end", "s1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "session s1 sealed")

	res = run(t, root, "", "learning", "pending", "--json")
	require.NoError(t, res.err)
	var pending []learning.Recommendation
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &pending))
	require.NotEmpty(t, pending)
	rec := pending[0]

	res = run(t, root, "", "learning", "apply", fmt.Sprint(rec.ID), "--json")
	require.NoError(t, res.err)
	var entry learning.Entry
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entry))
	_, err := os.Stat(filepath.Join(root, ".claude", filepath.FromSlash(rec.TargetArtifact)))
	require.NoError(t, err)

	res = run(t, root, "", "learning", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, entry.ID)

	res = run(t, root, "", "learning", "rollback", entry.ID)
	require.NoError(t, res.err)

	res = run(t, root, "", "learning", "rollback", entry.ID)
	require.Error(t, res.err)
	assert.Equal(t, exitRollbackTarget, exitCode(res.err))

	res = run(t, root, "", "learning", "rollback", "no-such-entry")
	assert.Equal(t, exitRollbackTarget, exitCode(res.err))

	res = run(t, root, "", "learning", "stats", "--json")
	require.NoError(t, res.err)
	var stats learning.Stats
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &stats))
	assert.Equal(t, 1, stats.RolledBack)
}

func TestLearningDisableEnable(t *testing.T) {
	root := newProject(t, projectPolicy)

	res := run(t, root, "", "learning", "disable")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "session learning disabled")

	res = run(t, root, "", "policy", "--key", "hooks.session_learning.enabled")
	require.NoError(t, res.err)
	assert.Equal(t, "false\n", res.stdout)

	res = run(t, root, "", "learning", "enable")
	require.NoError(t, res.err)
	res = run(t, root, "", "learning", "stats")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "enabled")
}

func TestPolicy_PrintsMergedYAML(t *testing.T) {
	root := newProject(t, projectPolicy+"priority: high\n")

	res := run(t, root, "", "policy")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "design_approved:")
	assert.Contains(t, res.stdout, "priority: high")

	res = run(t, root, "", "policy", "--key", "nope")
	assert.Error(t, res.err)
}

func TestConfigErrorExitCode(t *testing.T) {
	root := newProject(t, "requirements: {")
	res := run(t, root, "", "status")
	require.Error(t, res.err)
	assert.Equal(t, exitConfig, exitCode(res.err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errBlocked, exitBlocked},
		{&config.ConfigError{Source: "project", Err: fmt.Errorf("bad")}, exitConfig},
		{fmt.Errorf("gate: %w", storage.ErrStorageUnavailable), exitStorage},
		{&learning.RollbackError{EntryID: "e1", Reason: learning.AlreadyRolledBack}, exitRollbackTarget},
		{learning.ErrEntryNotFound, exitRollbackTarget},
		{fmt.Errorf("other"), exitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}
