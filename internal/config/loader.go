package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes environment overrides, e.g.
	// REQGATE_HOOKS__SESSION_LEARNING__ENABLED -> hooks.session_learning.enabled
	EnvPrefix = "REQGATE_"
)

// Source names used by DefaultSources.
const (
	SourceDefaults = "defaults"
	SourceUser     = "user"
	SourceProject  = "project"
	SourceLocal    = "local"
	SourceEnv      = "env"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrConfig is matched by every *ConfigError.
var ErrConfig = errors.New("config error")

// ConfigError reports a source that exists but could not be read or parsed,
// or a merged policy that fails validation.
type ConfigError struct {
	Source string
	Path   string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s (%s): %v", e.Source, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is reports ErrConfig so callers can test errors.Is(err, ErrConfig).
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Source is one layer of the cascade. Raw takes precedence over Path.
type Source struct {
	Name string
	Path string
	Raw  []byte

	// Format overrides extension-based parser selection ("yaml", "json", "toml").
	Format string
}

// DefaultSources returns the cascade for a project rooted at root, lowest
// priority first. The built-in defaults are always applied by Load and are
// not part of this list.
func DefaultSources(root string) []Source {
	var sources []Source
	if dir := userConfigDir(); dir != "" {
		sources = append(sources, Source{Name: SourceUser, Path: filepath.Join(dir, "config.yaml")})
	}
	projectDir := filepath.Join(root, ".reqgate")
	sources = append(sources,
		Source{Name: SourceProject, Path: filepath.Join(projectDir, "config.yaml")},
		Source{Name: SourceProject, Path: filepath.Join(projectDir, "config.toml")},
		Source{Name: SourceLocal, Path: LocalPath(root)},
	)
	return sources
}

// LocalPath returns the local override file for root.
func LocalPath(root string) string {
	return filepath.Join(root, ".reqgate", "config.local.yaml")
}

// Paths returns the file paths of sources, skipping raw sources.
func Paths(sources []Source) []string {
	var out []string
	for _, s := range sources {
		if s.Raw == nil && s.Path != "" {
			out = append(out, s.Path)
		}
	}
	return out
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "reqgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "reqgate")
}

// Load merges the built-in defaults and sources into an effective policy.
//
// Missing files are skipped. A source that exists but cannot be read or
// parsed aborts the load with a *ConfigError; there is no partial policy.
// Loading the same unchanged sources twice yields equal policies.
func Load(sources []Source) (*Policy, error) {
	return load(sources, "")
}

// LoadWithEnv is Load plus an environment layer with the highest priority.
//
// Variable names are lowercased after the prefix and "__" separates path
// segments:
//
//	REQGATE_STORAGE__IO_TIMEOUT=5s -> storage.io_timeout
func LoadWithEnv(sources []Source, prefix string) (*Policy, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	return load(sources, prefix)
}

func load(sources []Source, envPrefix string) (*Policy, error) {
	k := koanf.New(".")

	all := append([]Source{{Name: SourceDefaults, Raw: defaultsYAML, Format: "yaml"}}, sources...)
	var applied []string
	for _, src := range all {
		content, found, err := src.read()
		if err != nil {
			return nil, &ConfigError{Source: src.Name, Path: src.Path, Err: err}
		}
		if !found {
			continue
		}
		if err := k.Load(rawbytes.Provider(content), src.parser()); err != nil {
			return nil, &ConfigError{Source: src.Name, Path: src.Path, Err: fmt.Errorf("parsing: %w", err)}
		}
		applied = append(applied, src.Name)
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
			key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
			return strings.ReplaceAll(key, "__", ".")
		}), nil); err != nil {
			return nil, &ConfigError{Source: SourceEnv, Err: err}
		}
		applied = append(applied, SourceEnv)
	}

	var p Policy
	if err := k.Unmarshal("", &p); err != nil {
		return nil, &ConfigError{Source: "effective", Err: fmt.Errorf("decoding: %w", err)}
	}
	p.applyDefaults()
	p.Sources = applied
	p.raw = k.Raw()

	if err := p.Validate(); err != nil {
		return nil, &ConfigError{Source: "effective", Err: err}
	}
	return &p, nil
}

// read returns the source content. found is false for a missing file.
func (s Source) read() ([]byte, bool, error) {
	if s.Raw != nil {
		if len(s.Raw) > maxConfigFileSize {
			return nil, false, fmt.Errorf("config too large: %d bytes (max %d)", len(s.Raw), maxConfigFileSize)
		}
		return s.Raw, true, nil
	}
	if s.Path == "" {
		return nil, false, nil
	}

	// Open once and stat the descriptor to avoid a TOCTOU race.
	f, err := os.Open(s.Path) // #nosec G304 - cascade paths are operator controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return nil, false, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, false, fmt.Errorf("reading: %w", err)
	}
	return content, true, nil
}

// parser picks a koanf parser by explicit format or file extension. JSON is
// handled by the YAML parser since every JSON document is valid YAML.
func (s Source) parser() koanf.Parser {
	format := s.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(s.Path)), ".")
	}
	if format == "toml" {
		return TOML()
	}
	return yaml.Parser()
}
