package ignore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Matcher decides whether a path relative to the scan root is excluded by an
// ignore file or an exclude glob. The zero value matches nothing.
type Matcher struct {
	ignore   gitignore.Matcher
	patterns int
	globs    []string
}

// Load reads gitignore-style patterns from path. A missing file yields an
// empty matcher.
func Load(path string) (Matcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Matcher{}, nil
		}
		return Matcher{}, fmt.Errorf("failed to read ignore file: %w", err)
	}
	return Parse(data), nil
}

// Parse builds a matcher from gitignore-style content
func Parse(data []byte) Matcher {
	var ps []gitignore.Pattern
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, nil))
	}
	if len(ps) == 0 {
		return Matcher{}
	}
	return Matcher{ignore: gitignore.NewMatcher(ps), patterns: len(ps)}
}

// WithGlobs returns a copy of m that also excludes paths matching any of the
// doublestar globs.
func (m Matcher) WithGlobs(globs ...string) (Matcher, error) {
	out := m
	out.globs = append([]string(nil), m.globs...)
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			return Matcher{}, fmt.Errorf("invalid exclude glob %q", g)
		}
		out.globs = append(out.globs, g)
		// "./foo/**" is written against the root; matching is on clean relative paths.
		if trimmed := strings.TrimPrefix(g, "./"); trimmed != g {
			out.globs = append(out.globs, trimmed)
		}
	}
	return out, nil
}

// Empty reports whether the matcher can never match
func (m Matcher) Empty() bool {
	return m.patterns == 0 && len(m.globs) == 0
}

// Match reports whether rel, a path relative to the scan root, is excluded.
func (m Matcher) Match(rel string, isDir bool) bool {
	if m.Empty() {
		return false
	}
	rp := filepath.ToSlash(rel)
	if m.ignore != nil && m.ignore.Match(strings.Split(rp, "/"), isDir) {
		return true
	}
	for _, g := range m.globs {
		if doublestar.MatchUnvalidated(g, rp) {
			return true
		}
	}
	return false
}
