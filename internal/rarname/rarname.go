// Package rarname knows how RAR volume sets are named on disk.
package rarname

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	rePartFile   = regexp.MustCompile(`part(\d+)\.rar$`)
	reNewVolume  = regexp.MustCompile(`^(.*)\.part(\d+)\.rar$`)
	reOldVolume  = regexp.MustCompile(`^(.*)\.r(\d+)$`)
	reSingleRoot = regexp.MustCompile(`^(.*)\.rar$`)
)

// IsRootRarFile reports whether name is the first (or only) volume of a RAR
// set. Only the base name is considered.
func IsRootRarFile(name string) bool {
	base := filepath.Base(name)
	if m := rePartFile.FindStringSubmatch(base); m != nil {
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return false
		}
		return n == 1
	}
	return strings.HasSuffix(base, ".rar")
}

// Pattern matches the base names of every volume belonging to one set.
type Pattern struct {
	dir  string
	glob string
	re   *regexp.Regexp
}

// PartsPattern returns the pattern for the volume set that path belongs to.
func PartsPattern(path string) *Pattern {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	p := &Pattern{dir: filepath.Clean(dir)}
	switch {
	case reNewVolume.MatchString(base):
		m := reNewVolume.FindStringSubmatch(base)
		n := len(m[2])
		p.glob = m[1] + ".part" + strings.Repeat("?", n) + ".rar"
		p.re = regexp.MustCompile(fmt.Sprintf(`^%s\.part\d{%d}\.rar$`, regexp.QuoteMeta(m[1]), n))
	case reOldVolume.MatchString(base):
		m := reOldVolume.FindStringSubmatch(base)
		n := len(m[2])
		p.glob = m[1] + ".r" + strings.Repeat("?", n)
		p.re = regexp.MustCompile(fmt.Sprintf(`^%s\.r\d{%d}$`, regexp.QuoteMeta(m[1]), n))
	case reSingleRoot.MatchString(base):
		m := reSingleRoot.FindStringSubmatch(base)
		p.glob = m[1] + ".r*"
		p.re = regexp.MustCompile(fmt.Sprintf(`^%s\.(rar|r\d{2,})$`, regexp.QuoteMeta(m[1])))
	default:
		p.glob = base
		p.re = regexp.MustCompile("^" + regexp.QuoteMeta(base) + "$")
	}
	return p
}

// String renders the pattern as a glob rooted at the archive directory.
func (p *Pattern) String() string {
	return filepath.Join(p.dir, p.glob)
}

// Match reports whether base is one of the set's volume names.
func (p *Pattern) Match(base string) bool {
	return p.re.MatchString(base)
}

// ListParts returns every volume of the set path belongs to, sorted.
func ListParts(path string) ([]string, error) {
	p := PartsPattern(path)
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("list parts of %s: %w", path, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !p.Match(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(p.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
