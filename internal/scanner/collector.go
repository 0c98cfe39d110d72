package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ejagojo/KeyWatch/internal/ignore"
	"go.uber.org/zap"
)

// Collector resolves a Target into the candidate file paths to scan.
//
// Directories are walked with an explicit queue rather than recursion.
// Symlinked directories are followed. A directory reachable under several
// names is walked under each of them; only a directory whose resolved path is
// one of its own ancestors is skipped, so symlink cycles terminate. Entry
// order follows os.ReadDir and is not part of the contract.
type Collector struct {
	// MaxDepth bounds how many directory levels below the root are walked.
	// Zero means unlimited.
	MaxDepth int
	Logger   *zap.SugaredLogger
}

type pendingDir struct {
	path  string
	depth int
	// ancestors holds the resolved paths of the directories above path.
	ancestors []string
}

func (d pendingDir) within(real string) bool {
	for _, a := range d.ancestors {
		if a == real {
			return true
		}
	}
	return false
}

// Collect returns the candidate file paths for t. A single file target is
// returned as is; its existence is checked when it is opened. Unreadable
// subdirectories are logged and left out. The only errors are an invalid
// target and ctx cancellation.
func (c *Collector) Collect(ctx context.Context, t Target) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.File != "" {
		return []string{t.File}, nil
	}

	log := c.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var (
		files []string
		queue = []pendingDir{{path: t.Dir}}
	)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := queue[0]
		queue = queue[1:]

		real, err := filepath.EvalSymlinks(dir.path)
		if err != nil {
			log.Warnw("skipping unresolvable directory", "path", dir.path, "error", err)
			continue
		}
		if dir.within(real) {
			log.Debugw("skipping directory cycle", "path", dir.path, "resolved", real)
			continue
		}
		chain := append(dir.ancestors[:len(dir.ancestors):len(dir.ancestors)], real)

		entries, err := os.ReadDir(dir.path)
		if err != nil {
			log.Warnw("skipping unreadable directory", "path", dir.path, "error", err)
			continue
		}

		for _, entry := range entries {
			p := filepath.Join(dir.path, entry.Name())

			// Stat follows symlinks; broken links and loops fail here and are dropped.
			info, err := os.Stat(p)
			if err != nil {
				log.Debugw("skipping unresolvable entry", "path", p, "error", err)
				continue
			}

			switch {
			case info.IsDir():
				if c.MaxDepth > 0 && dir.depth+1 > c.MaxDepth {
					log.Debugw("skipping directory below max depth", "path", p, "max_depth", c.MaxDepth)
					continue
				}
				queue = append(queue, pendingDir{path: p, depth: dir.depth + 1, ancestors: chain})
			case info.Mode().IsRegular():
				files = append(files, p)
			}
		}
	}

	return files, nil
}

// Exclusion decides which candidate paths are skipped.
//
// The marker test is a plain substring test over the whole path string, so a
// file named "foo.git.txt" is excluded just like anything below ".git/".
// Ignore patterns are evaluated on the path relative to Root and only apply
// when Root is set.
type Exclusion struct {
	Marker string
	Root   string
	Ignore ignore.Matcher
}

// Excluded reports whether path must not be scanned
func (e Exclusion) Excluded(path string) bool {
	if e.Marker != "" && strings.Contains(path, e.Marker) {
		return true
	}
	if e.Root == "" || e.Ignore.Empty() {
		return false
	}
	rel, err := filepath.Rel(e.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return e.Ignore.Match(rel, false)
}
