package scanner

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ejagojo/KeyWatch/internal/rules"
)

// FileResult is the outcome of matching one file
type FileResult struct {
	Path     string
	Findings []Finding
	Lines    int
	Err      *FileReadError
}

// Matcher applies a RuleSet to the content of one file at a time. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	rules *rules.RuleSet
}

// NewMatcher creates a Matcher for rs
func NewMatcher(rs *rules.RuleSet) *Matcher {
	return &Matcher{rules: rs}
}

// MatchFile reads path and matches its content. A file that cannot be read
// yields no findings, zero lines and a non-nil Err.
func (m *Matcher) MatchFile(path string) FileResult {
	content, err := readText(path)
	if err != nil {
		return FileResult{Path: path, Err: &FileReadError{Path: path, Err: err}}
	}

	findings, lines := m.MatchContent(path, content)
	return FileResult{Path: path, Findings: findings, Lines: lines}
}

// MatchContent matches content in two passes and returns the findings along
// with the number of physical lines.
//
// Content-spanning rules run once over the whole text and report only their
// first match. Line rules run on each line and report their first match per
// line. Findings come out spanning pass first, then line by line, rules in
// configured order.
func (m *Matcher) MatchContent(path, content string) ([]Finding, int) {
	var findings []Finding

	for _, r := range m.rules.Spanning() {
		loc := r.Pattern.FindStringIndex(content)
		if loc == nil {
			continue
		}
		line := strings.Count(content[:loc[0]], "\n") + 1
		findings = append(findings, newFinding(path, line, r, content[loc[0]:loc[1]]))
	}

	lineRules := m.rules.LineRules()
	lines := 0
	rest := content
	for len(rest) > 0 {
		var line string
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, ""
		}
		lines++
		line = strings.TrimSuffix(line, "\r")

		for _, r := range lineRules {
			if loc := r.Pattern.FindStringIndex(line); loc != nil {
				findings = append(findings, newFinding(path, lines, r, line[loc[0]:loc[1]]))
			}
		}
	}

	return findings, lines
}

func newFinding(path string, line int, r rules.Rule, match string) Finding {
	return Finding{
		Path:           path,
		Line:           line,
		FindingType:    r.FindingType,
		Severity:       r.Severity,
		MatchedContent: strings.Clone(match),
		RuleName:       r.Name,
	}
}

// readText reads a whole file through a single handle that is closed on every
// path. Content that is not UTF-8 is reported as ErrInvalidEncoding.
func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidEncoding
	}
	return string(data), nil
}
