package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/ejagojo/KeyWatch/internal/rules"
)

// ErrInvalidTarget is returned when a Target names both or neither of a file
// and a directory.
var ErrInvalidTarget = errors.New("exactly one of file or directory must be given")

// ErrInvalidEncoding marks file content that is not valid UTF-8 text
var ErrInvalidEncoding = errors.New("content is not valid UTF-8")

// Finding represents one match of a rule against file content
type Finding struct {
	Path           string         `json:"file_path"`
	Line           int            `json:"line_number"`
	FindingType    string         `json:"finding_type"`
	Severity       rules.Severity `json:"severity"`
	MatchedContent string         `json:"matched_content"`
	RuleName       string         `json:"rule_name"`
}

// Target selects what to scan. Exactly one field must be set.
type Target struct {
	File string
	Dir  string
}

// Validate checks that exactly one of File and Dir is set
func (t Target) Validate() error {
	if (t.File == "") == (t.Dir == "") {
		return ErrInvalidTarget
	}
	return nil
}

// FileReadError records a file that was attempted but could not be read
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error {
	return e.Err
}

// Statistics describes what a scan touched
type Statistics struct {
	FilesScanned  int
	TotalLines    int
	ExcludedPaths []string
	Unreadable    []*FileReadError
}

// Complete reports whether every scanned file was read successfully
func (s Statistics) Complete() bool {
	return len(s.Unreadable) == 0
}

// Result is the outcome of one scan
type Result struct {
	Findings []Finding
	Stats    Statistics
	Duration time.Duration
}
