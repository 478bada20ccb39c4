package learning

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Artifacts reads and writes guidance files under one root directory.
type Artifacts struct {
	root string
}

// NewArtifacts returns an artifact tree rooted at dir.
func NewArtifacts(dir string) (*Artifacts, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifacts dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifacts dir: %w", err)
	}
	return &Artifacts{root: abs}, nil
}

// Root returns the absolute artifact directory.
func (a *Artifacts) Root() string {
	return a.root
}

// Hash returns the hex blake3 digest of content.
func Hash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Path resolves a slash-separated target under the root. Absolute paths and
// paths that leave the root are rejected.
func (a *Artifacts) Path(target string) (string, error) {
	if target == "" || strings.ContainsRune(target, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") || strings.Contains(target, `\`) {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidTarget, target)
	}
	clean := filepath.Clean(filepath.FromSlash(target))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the artifacts dir", ErrInvalidTarget, target)
	}
	p := filepath.Join(a.root, clean)

	// A symlinked directory inside the tree must not lead outside it.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		root, rerr := filepath.EvalSymlinks(a.root)
		if rerr != nil {
			root = a.root
		}
		if rel, err := filepath.Rel(root, dir); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q resolves outside the artifacts dir", ErrInvalidTarget, target)
		}
	}
	return p, nil
}

// Read returns the target's content and whether it exists.
func (a *Artifacts) Read(target string) (string, bool, error) {
	p, err := a.Path(target)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p) // #nosec G304 - path validated by Path
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading artifact %s: %w", target, err)
	}
	return string(data), true, nil
}

// Write replaces the target's content atomically.
func (a *Artifacts) Write(target, content string) error {
	p, err := a.Path(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing artifact %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing artifact %s: %w", target, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod artifact %s: %w", target, err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming artifact %s: %w", target, err)
	}
	return nil
}

// Remove deletes the target. Removing a missing target is not an error.
func (a *Artifacts) Remove(target string) error {
	p, err := a.Path(target)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact %s: %w", target, err)
	}
	return nil
}
