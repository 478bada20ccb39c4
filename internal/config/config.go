// Package config loads the reqgate policy from a cascade of configuration
// sources.
//
// Sources are merged in priority order (built-in defaults, user, project,
// local, then an optional environment layer). Maps merge key by key, lists
// and scalars are replaced by the higher-priority source.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/maps"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

// Severity controls whether an open requirement blocks or only warns.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Scope controls which state row a requirement is tracked in.
type Scope string

const (
	ScopeBranch  Scope = "branch"
	ScopeSession Scope = "session"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Policy is the effective, merged configuration.
type Policy struct {
	Requirements map[string]Requirement `koanf:"requirements"`
	Hooks        HooksConfig            `koanf:"hooks"`
	Storage      StorageConfig          `koanf:"storage"`
	Artifacts    ArtifactsConfig        `koanf:"artifacts"`
	Logging      LoggingConfig          `koanf:"logging"`
	Server       ServerConfig           `koanf:"server"`
	Telemetry    TelemetryConfig        `koanf:"telemetry"`
	Secrets      SecretsConfig          `koanf:"secrets"`

	// Sources lists the names of the sources that contributed, in merge order.
	Sources []string `koanf:"-"`

	raw map[string]any
}

// Requirement is a named precondition enforced by the gate.
type Requirement struct {
	Key         string   `koanf:"-"`
	Trigger     Trigger  `koanf:"trigger"`
	SatisfiedBy []string `koanf:"satisfied_by"`
	Severity    Severity `koanf:"severity"`
	Scope       Scope    `koanf:"scope"`
	Message     string   `koanf:"message"`
	Hint        string   `koanf:"hint"`
}

// Trigger selects the events a requirement applies to. Every non-empty list
// must match; any entry within a list may match.
type Trigger struct {
	Hooks           []string `koanf:"hooks"`
	Tools           []string `koanf:"tools"`
	Paths           []string `koanf:"paths"`
	Branches        []string `koanf:"branches"`
	ExcludeBranches []string `koanf:"exclude_branches"`
	Commands        []string `koanf:"commands"`
}

// HooksConfig holds hook behavior settings.
type HooksConfig struct {
	SessionLearning hooks.SessionLearningConfig `koanf:"session_learning"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	Dir       string        `koanf:"dir"`
	IOTimeout time.Duration `koanf:"io_timeout"`
}

// ArtifactsConfig locates the guidance artifacts recommendations update.
type ArtifactsConfig struct {
	Dir string `koanf:"dir"`
}

// LoggingConfig is the subset of logger settings exposed through the cascade.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ServerConfig holds HTTP daemon configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// SecretsConfig controls redaction of recorded commands and artifact content.
type SecretsConfig struct {
	Enabled         bool     `koanf:"enabled"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`
}

// SessionLearning returns the session learning block.
func (p *Policy) SessionLearning() *hooks.SessionLearningConfig {
	return &p.Hooks.SessionLearning
}

// RequirementList returns all requirements sorted by key.
func (p *Policy) RequirementList() []Requirement {
	keys := make([]string, 0, len(p.Requirements))
	for k := range p.Requirements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Requirement, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.Requirements[k])
	}
	return out
}

// Requirement looks up a requirement by key.
func (p *Policy) Requirement(key string) (Requirement, bool) {
	r, ok := p.Requirements[key]
	return r, ok
}

// Get returns the merged value at a dotted path, including keys the typed
// policy does not model. It returns nil when the path is not set.
func (p *Policy) Get(path string) any {
	if p.raw == nil || path == "" {
		return nil
	}
	return maps.Search(p.raw, strings.Split(path, "."))
}

// String returns the value at path formatted as a string, or "".
func (p *Policy) String(path string) string {
	v := p.Get(path)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Raw returns a deep copy of the merged configuration tree.
func (p *Policy) Raw() map[string]any {
	if p.raw == nil {
		return map[string]any{}
	}
	return maps.Copy(p.raw)
}

// applyDefaults fills requirement-level defaults the YAML defaults cannot express.
func (p *Policy) applyDefaults() {
	if p.Requirements == nil {
		p.Requirements = map[string]Requirement{}
	}
	for key, r := range p.Requirements {
		r.Key = key
		if r.Severity == "" {
			r.Severity = SeverityBlocking
		}
		if r.Scope == "" {
			r.Scope = ScopeBranch
		}
		if len(r.Trigger.Hooks) == 0 {
			r.Trigger.Hooks = []string{string(hooks.HookPreToolUse)}
		}
		if r.Message == "" {
			r.Message = fmt.Sprintf("requirement %q is not satisfied", key)
		}
		p.Requirements[key] = r
	}
}

// Validate checks the merged policy.
func (p *Policy) Validate() error {
	for _, r := range p.RequirementList() {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if err := p.Hooks.SessionLearning.Validate(); err != nil {
		return fmt.Errorf("hooks.session_learning: %w", err)
	}
	if p.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if p.Storage.IOTimeout <= 0 {
		return fmt.Errorf("storage.io_timeout must be positive")
	}
	if p.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	if p.Server.Port < 0 || p.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", p.Server.Port)
	}
	return nil
}

// Validate checks a single requirement definition.
func (r Requirement) Validate() error {
	if !keyPattern.MatchString(r.Key) {
		return fmt.Errorf("requirement key %q must match %s", r.Key, keyPattern)
	}
	switch r.Severity {
	case SeverityBlocking, SeverityAdvisory:
	default:
		return fmt.Errorf("requirement %s: severity must be blocking or advisory, got %q", r.Key, r.Severity)
	}
	switch r.Scope {
	case ScopeBranch, ScopeSession:
	default:
		return fmt.Errorf("requirement %s: scope must be branch or session, got %q", r.Key, r.Scope)
	}
	for _, h := range r.Trigger.Hooks {
		if _, err := hooks.ParseHookType(h); err != nil {
			return fmt.Errorf("requirement %s: %w", r.Key, err)
		}
	}
	for _, set := range [][]string{r.Trigger.Paths, r.Trigger.Branches, r.Trigger.ExcludeBranches} {
		for _, pattern := range set {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("requirement %s: invalid glob %q", r.Key, pattern)
			}
		}
	}
	for _, s := range r.SatisfiedBy {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("requirement %s: satisfied_by entries cannot be empty", r.Key)
		}
	}
	return nil
}
