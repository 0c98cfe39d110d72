package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ejagojo/KeyWatch/internal/ignore"
	"github.com/ejagojo/KeyWatch/internal/rules"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scanner drives path collection and content matching over a target and
// aggregates the findings and statistics.
type Scanner struct {
	matcher *Matcher
	config  ScannerConfig
	log     *zap.SugaredLogger
}

// New creates a Scanner for rs. Only the runtime options of config are used;
// its Rules field is ignored in favor of rs.
func New(rs *rules.RuleSet, config ScannerConfig) *Scanner {
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if config.ExcludeMarker == "" {
		config.ExcludeMarker = defaultExcludeMarker
	}
	return &Scanner{
		matcher: NewMatcher(rs),
		config:  config,
		log:     log,
	}
}

// Run scans target. Files are matched concurrently but the result is the same
// as a sequential scan: findings are ordered by file enumeration order, then
// by the matcher's order within a file.
//
// A target that does not exist on disk yields an empty result rather than an
// error. Unreadable files are recorded in Stats.Unreadable; with
// FailOnUnreadable the first one aborts the scan and is returned as a
// *FileReadError. Cancelling ctx stops the scan between files.
func (s *Scanner) Run(ctx context.Context, target Target) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	root := target.Dir
	if root == "" {
		root = target.File
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		s.log.Warnw("scan target does not exist", "path", root)
		return &Result{Duration: time.Since(start)}, nil
	}

	exclusion, err := s.exclusion(target)
	if err != nil {
		return nil, err
	}

	collector := &Collector{MaxDepth: s.config.MaxDepth, Logger: s.log}
	paths, err := collector.Collect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to collect paths: %w", err)
	}

	var stats Statistics
	toScan := make([]string, 0, len(paths))
	for _, p := range paths {
		if exclusion.Excluded(p) {
			s.log.Debugw("excluded path", "path", p)
			stats.ExcludedPaths = append(stats.ExcludedPaths, p)
			continue
		}
		toScan = append(toScan, p)
	}

	results := make([]FileResult, len(toScan))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.threads())

	for i, p := range toScan {
		if gctx.Err() != nil {
			break
		}
		i, p := i, p // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.matcher.MatchFile(p)
			if results[i].Err != nil && s.config.FailOnUnreadable {
				return results[i].Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan aborted: %w", err)
	}

	var findings []Finding
	for _, res := range results {
		stats.FilesScanned++
		stats.TotalLines += res.Lines
		if res.Err != nil {
			s.log.Warnw("unreadable file", "path", res.Path, "error", res.Err.Err)
			stats.Unreadable = append(stats.Unreadable, res.Err)
		}
		findings = append(findings, res.Findings...)
	}

	result := &Result{
		Findings: findings,
		Stats:    stats,
		Duration: time.Since(start),
	}
	s.log.Infow("scan complete",
		"files_scanned", stats.FilesScanned,
		"total_lines", stats.TotalLines,
		"excluded", len(stats.ExcludedPaths),
		"unreadable", len(stats.Unreadable),
		"findings", len(findings),
		"duration", result.Duration,
	)
	return result, nil
}

func (s *Scanner) threads() int {
	if s.config.Threads <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return s.config.Threads
}

// exclusion builds the exclusion policy for target. Ignore files and globs
// only apply to directory targets.
func (s *Scanner) exclusion(target Target) (Exclusion, error) {
	ex := Exclusion{Marker: s.config.ExcludeMarker}
	if target.Dir == "" {
		return ex, nil
	}

	var m ignore.Matcher
	if s.config.IgnoreFile != "" {
		loaded, err := ignore.Load(filepath.Join(target.Dir, s.config.IgnoreFile))
		if err != nil {
			s.log.Warnw("ignoring unreadable ignore file", "path", s.config.IgnoreFile, "error", err)
		} else {
			m = loaded
		}
	}
	m, err := m.WithGlobs(s.config.Exclude...)
	if err != nil {
		return Exclusion{}, err
	}

	ex.Root = target.Dir
	ex.Ignore = m
	return ex, nil
}
