package fsutil

import (
	"fmt"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// WriteFileFS is WriteFile for a billy filesystem: content goes to a temp
// file next to name which is then renamed over it.
func WriteFileFS(fs billy.Filesystem, name string, content []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := util.TempFile(fs, dir, ".taskflow-tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
