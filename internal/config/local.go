package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// SetLocal writes key=value into the local override file at path, keeping
// every other key already in it. The file is created when missing.
func SetLocal(path, key string, value any) error {
	k := koanf.New(".")

	src := Source{Name: SourceLocal, Path: path}
	content, found, err := src.read()
	if err != nil {
		return &ConfigError{Source: SourceLocal, Path: path, Err: err}
	}
	if found {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return &ConfigError{Source: SourceLocal, Path: path, Err: fmt.Errorf("parsing: %w", err)}
		}
	}
	if err := k.Set(key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}

	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("encoding local config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("writing local config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing local config: %w", err)
	}
	return nil
}
