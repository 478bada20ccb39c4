package gate

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

// Matches reports whether a trigger selects the event. Every non-empty list
// must match; one entry of a list is enough.
func Matches(t config.Trigger, ev Event) bool {
	if !matchHook(t.Hooks, ev.Hook) {
		return false
	}
	if len(t.Tools) > 0 && !anyGlob(t.Tools, ev.ToolName) {
		return false
	}
	if len(t.Paths) > 0 && !anyPath(t.Paths, ev.FilePath) {
		return false
	}
	if len(t.Branches) > 0 && !anyGlob(t.Branches, ev.Branch) {
		return false
	}
	if len(t.ExcludeBranches) > 0 && anyGlob(t.ExcludeBranches, ev.Branch) {
		return false
	}
	if len(t.Commands) > 0 && !anySubstring(t.Commands, ev.Command) {
		return false
	}
	return true
}

func matchHook(names []string, hook hooks.HookType) bool {
	if len(names) == 0 {
		return hook == hooks.HookPreToolUse
	}
	for _, n := range names {
		if strings.EqualFold(n, string(hook)) {
			return true
		}
	}
	return false
}

func anyGlob(patterns []string, value string) bool {
	if value == "" {
		return false
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, value); ok {
			return true
		}
	}
	return false
}

// anyPath matches repository paths. A pattern without a slash also matches
// the base name, so "*.go" selects files in any directory.
func anyPath(patterns []string, file string) bool {
	if file == "" {
		return false
	}
	base := path.Base(file)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, file); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

func anySubstring(needles []string, haystack string) bool {
	if haystack == "" {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// satisfies reports whether completing skill clears requirement r. A
// namespaced skill ("plugin:brainstorming") satisfies its bare name.
func satisfies(r config.Requirement, skill string) bool {
	if skill == "" {
		return false
	}
	for _, s := range r.SatisfiedBy {
		if strings.EqualFold(s, skill) {
			return true
		}
		if i := strings.LastIndex(skill, ":"); i >= 0 && strings.EqualFold(s, skill[i+1:]) {
			return true
		}
	}
	return false
}
