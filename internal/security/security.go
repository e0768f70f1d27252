// Package security guards extraction against hostile entry names.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrUnsafePath is returned for entry names that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("unsafe archive entry path")

// CheckEntryName returns nil if an archive entry name is safe to extract, or
// an error describing why it is blocked.
func CheckEntryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character U+%04X in %q", ErrUnsafePath, r, name)
		}
	}
	slashed := filepath.ToSlash(name)
	if filepath.IsAbs(name) || strings.HasPrefix(slashed, "/") || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return fmt.Errorf("%w: parent reference in %q", ErrUnsafePath, name)
		}
	}
	return nil
}

// SafeJoin joins dest and an entry name after checking the name, and verifies
// the result stays inside dest.
func SafeJoin(dest, name string) (string, error) {
	if err := CheckEntryName(name); err != nil {
		return "", err
	}
	base := filepath.Clean(dest)
	target := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrUnsafePath, name, dest)
	}
	return target, nil
}
