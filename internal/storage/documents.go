// Package storage persists reqgate state as JSON documents on local disk.
//
// Every document lives at <dir>/<name>.json. Writes are atomic (temp file and
// rename) and serialized across processes with a lock file acquired under an
// exponential backoff. All operations are bounded by the configured I/O
// timeout; exceeding it yields ErrStorageUnavailable instead of blocking the
// caller indefinitely.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zeebo/blake3"
)

// Errors for storage operations.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidName        = errors.New("invalid document name")
	ErrCorrupt            = errors.New("document corrupted")

	errLocked = errors.New("document locked")
)

const (
	// DefaultTimeout bounds every storage operation.
	DefaultTimeout = 3 * time.Second

	staleLockAge = 30 * time.Second
	docExt       = ".json"
	lockExt      = ".lock"
)

// segmentPattern validates one path segment of a document name.
var segmentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Documents is a directory of JSON documents.
type Documents struct {
	dir     string
	timeout time.Duration
}

// New opens (creating if needed) a document directory.
func New(dir string, timeout time.Duration) (*Documents, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, dir, err)
	}
	return &Documents{dir: dir, timeout: timeout}, nil
}

// Dir returns the root directory.
func (d *Documents) Dir() string {
	return d.dir
}

// Timeout returns the per-operation I/O timeout.
func (d *Documents) Timeout() time.Duration {
	return d.timeout
}

// ValidateName checks that a document name is a relative, slash-separated
// path made of safe segments.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		if len(seg) > 255 || !segmentPattern.MatchString(seg) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Key turns an arbitrary identifier (a branch name, a session id) into a
// document-safe segment. Unsafe characters are replaced and a short content
// hash keeps distinct identifiers from colliding.
func Key(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "._-")
	if len(slug) > 64 {
		slug = slug[:64]
	}
	if slug != "" && slug == id {
		return slug
	}
	sum := blake3.Sum256([]byte(id))
	if slug == "" {
		return fmt.Sprintf("x-%x", sum[:6])
	}
	return fmt.Sprintf("%s-%x", slug, sum[:4])
}

func (d *Documents) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(d.dir, filepath.FromSlash(name)+docExt), nil
}

// run executes fn on the caller's goroutine with a context bounded by the
// storage timeout. Work that honours the context stops before it commits, so
// a reported timeout never leaves a write behind; a write that committed is
// never reported as a timeout.
func (d *Documents) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := fn(tctx)
	if err == nil {
		return nil
	}
	if cerr := tctx.Err(); cerr != nil && errors.Is(err, cerr) {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", ErrStorageUnavailable, op, d.timeout)
		}
		return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, cerr)
	}
	return err
}

// Read loads the named document into v. It reports false when the document
// does not exist. Unknown fields are ignored.
func (d *Documents) Read(ctx context.Context, name string, v any) (bool, error) {
	path, err := d.path(name)
	if err != nil {
		return false, err
	}
	var found bool
	err = d.run(ctx, "read "+name, func(context.Context) error {
		var rerr error
		found, rerr = readJSON(path, v)
		return rerr
	})
	return found, err
}

// Write replaces the named document with v.
func (d *Documents) Write(ctx context.Context, name string, v any) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	return d.run(ctx, "write "+name, func(ctx context.Context) error {
		unlock, err := d.lock(ctx, path)
		if err != nil {
			return err
		}
		defer unlock()
		return writeJSON(ctx, path, v)
	})
}

// Update reads the named document into v, calls fn, and writes v back when fn
// reports a change. The whole cycle holds the document lock.
func (d *Documents) Update(ctx context.Context, name string, v any, fn func(exists bool) (bool, error)) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	return d.run(ctx, "update "+name, func(ctx context.Context) error {
		unlock, err := d.lock(ctx, path)
		if err != nil {
			return err
		}
		defer unlock()

		exists, err := readJSON(path, v)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := fn(exists)
		if err != nil || !changed {
			return err
		}
		return writeJSON(ctx, path, v)
	})
}

// Remove deletes the named document. Removing a missing document is not an error.
func (d *Documents) Remove(ctx context.Context, name string) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}
	return d.run(ctx, "remove "+name, func(ctx context.Context) error {
		unlock, err := d.lock(ctx, path)
		if err != nil {
			return err
		}
		defer unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing %s: %v", ErrStorageUnavailable, name, err)
		}
		return nil
	})
}

// List returns the names of documents directly under prefix, sorted.
func (d *Documents) List(ctx context.Context, prefix string) ([]string, error) {
	dir := d.dir
	if prefix != "" {
		if err := ValidateName(prefix); err != nil {
			return nil, err
		}
		dir = filepath.Join(d.dir, filepath.FromSlash(prefix))
	}
	var names []string
	err := d.run(ctx, "list "+prefix, func(context.Context) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("%w: listing %s: %v", ErrStorageUnavailable, dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), docExt) {
				continue
			}
			base := strings.TrimSuffix(e.Name(), docExt)
			if prefix != "" {
				base = prefix + "/" + base
			}
			names = append(names, base)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// lock acquires the cross-process lock file for path.
func (d *Documents) lock(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStorageUnavailable, filepath.Dir(path), err)
	}
	lockPath := path + lockExt

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = d.timeout

	err := backoff.Retry(func() error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return backoff.Permanent(err)
		}
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(lockPath)
		}
		return errLocked
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring lock %s: %v", ErrStorageUnavailable, filepath.Base(lockPath), err)
	}
	return func() { _ = os.Remove(lockPath) }, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path built from validated document name
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %w: %s: %v", ErrStorageUnavailable, ErrCorrupt, filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON writes v atomically with 0600 permissions. The rename is the
// commit point; an expired ctx abandons the temp file before it.
func writeJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrStorageUnavailable, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: writing %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: syncing %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: closing %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	return nil
}
