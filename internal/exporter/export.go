// Package exporter writes a standalone copy of the scan journal.
package exporter

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ExportDatabase writes a consistent snapshot of src to dstPath. dstPath must
// not exist yet.
func ExportDatabase(src *sql.DB, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("export target %s already exists", dstPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create dst dir: %w", err)
	}
	if _, err := src.Exec("VACUUM INTO ?", dstPath); err != nil {
		return fmt.Errorf("export journal: %w", err)
	}
	return nil
}
