package hooks

import (
	"fmt"
	"time"
)

// Update targets a recommendation may write to.
const (
	TargetMemories = "memories"
	TargetSkills   = "skills"
	TargetCommands = "commands"
)

// SessionLearningConfig is the hooks.session_learning policy block.
type SessionLearningConfig struct {
	// Enabled turns session analysis on or off
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// PromptOnStop analyzes the session and surfaces recommendations on Stop
	PromptOnStop bool `koanf:"prompt_on_stop" json:"prompt_on_stop" yaml:"prompt_on_stop"`

	// MinToolUses is the minimum number of recorded events before analysis runs
	MinToolUses int `koanf:"min_tool_uses" json:"min_tool_uses" yaml:"min_tool_uses"`

	// MaxRecommendations caps the recommendations produced per analysis
	MaxRecommendations int `koanf:"max_recommendations" json:"max_recommendations" yaml:"max_recommendations"`

	// ConfidenceThreshold discards candidates scored below it (0-1)
	ConfidenceThreshold float64 `koanf:"confidence_threshold" json:"confidence_threshold" yaml:"confidence_threshold"`

	// UpdateTargets limits which artifact kinds may be updated
	UpdateTargets []string `koanf:"update_targets" json:"update_targets" yaml:"update_targets"`

	// FrictionThreshold flags requirements that stay open longer than this
	FrictionThreshold time.Duration `koanf:"friction_threshold" json:"friction_threshold" yaml:"friction_threshold"`

	// ReorderWindow bounds how late an out-of-order event may arrive
	ReorderWindow time.Duration `koanf:"reorder_window" json:"reorder_window" yaml:"reorder_window"`
}

// DefaultSessionLearningConfig returns the default configuration
func DefaultSessionLearningConfig() *SessionLearningConfig {
	return &SessionLearningConfig{
		Enabled:             true,
		PromptOnStop:        true,
		MinToolUses:         5,
		MaxRecommendations:  5,
		ConfidenceThreshold: 0.6,
		UpdateTargets:       []string{TargetMemories, TargetSkills, TargetCommands},
		FrictionThreshold:   30 * time.Minute,
		ReorderWindow:       2 * time.Minute,
	}
}

// Validate validates the configuration
func (c *SessionLearningConfig) Validate() error {
	if c.MinToolUses < 0 {
		return fmt.Errorf("min_tool_uses must be >= 0, got %d", c.MinToolUses)
	}
	if c.MaxRecommendations < 0 {
		return fmt.Errorf("max_recommendations must be >= 0, got %d", c.MaxRecommendations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.FrictionThreshold < 0 {
		return fmt.Errorf("friction_threshold cannot be negative")
	}
	if c.ReorderWindow < 0 {
		return fmt.Errorf("reorder_window cannot be negative")
	}
	for _, target := range c.UpdateTargets {
		switch target {
		case TargetMemories, TargetSkills, TargetCommands:
		default:
			return fmt.Errorf("unknown update target %q (valid: memories, skills, commands)", target)
		}
	}
	return nil
}

// Targets reports whether the given update target is enabled.
func (c *SessionLearningConfig) Targets(target string) bool {
	for _, t := range c.UpdateTargets {
		if t == target {
			return true
		}
	}
	return false
}
