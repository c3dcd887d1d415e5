// Package fsutil writes generated files without leaving partial output
// behind.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type writeOptions struct {
	perm     os.FileMode
	backup   bool
	validate func([]byte) error
}

type Option func(*writeOptions)

// WithBackup keeps the previous content as <path>.bak.
func WithBackup() Option {
	return func(o *writeOptions) { o.backup = true }
}

// WithValidator re-reads the temp file and rejects the write when fn fails.
func WithValidator(fn func([]byte) error) Option {
	return func(o *writeOptions) { o.validate = fn }
}

func WithPerm(perm os.FileMode) Option {
	return func(o *writeOptions) { o.perm = perm }
}

// ValidYAML is a validator for YAML output.
func ValidYAML(content []byte) error {
	var v any
	return yaml.Unmarshal(content, &v)
}

// WriteFile replaces path with content through a temp file in the same
// directory and a rename. Missing parent directories are created.
func WriteFile(path string, content []byte, opts ...Option) error {
	o := writeOptions{perm: 0o644}
	for _, fn := range opts {
		fn(&o)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".taskflow-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, o.perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if o.validate != nil {
		written, err := os.ReadFile(tmpName)
		if err != nil {
			return fmt.Errorf("read temp file for validation: %w", err)
		}
		if err := o.validate(written); err != nil {
			return fmt.Errorf("validate %s: %w", filepath.Base(path), err)
		}
	}

	if o.backup {
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, path+".bak"); err != nil {
				return fmt.Errorf("create backup: %w", err)
			}
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
