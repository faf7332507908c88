package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileDestination writes archives into a local directory.
type FileDestination struct {
	dir string
}

// NewFileDestination creates a destination writing under dir, which is
// created if needed.
func NewFileDestination(dir string) *FileDestination {
	return &FileDestination{dir: dir}
}

// Write replaces dir/name with data. The file is written under a temporary
// name and renamed so readers never see a partial archive.
func (d *FileDestination) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	path := filepath.Join(d.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
