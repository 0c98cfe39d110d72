package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/ejagojo/KeyWatch/internal/gitx"
	"github.com/ejagojo/KeyWatch/internal/rules"
	"github.com/ejagojo/KeyWatch/internal/scanner"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// OutputType defines the supported output formats
type OutputType string

const (
	OutputTypeConsole OutputType = "console"
	OutputTypeJSON    OutputType = "json"
	OutputTypeSARIF   OutputType = "sarif"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// ParseOutputType validates an output format name
func ParseOutputType(s string) (OutputType, error) {
	switch t := OutputType(strings.ToLower(s)); t {
	case OutputTypeConsole, OutputTypeJSON, OutputTypeSARIF:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported output type: %s", s)
	}
}

// Finding is a scanner finding with a stable fingerprint
type Finding struct {
	scanner.Finding
	Fingerprint string `json:"fingerprint"`
}

// UnreadableFile names a file that was attempted but could not be read
type UnreadableFile struct {
	Path  string `json:"file_path"`
	Error string `json:"error"`
}

// ScanMetadata summarizes what a scan covered
type ScanMetadata struct {
	FilesScanned    int              `json:"files_scanned"`
	TotalLines      int              `json:"total_lines"`
	ExcludedFiles   []string         `json:"excluded_files"`
	UnreadableFiles []UnreadableFile `json:"unreadable_files"`
	Complete        bool             `json:"complete"`
	ScanTime        string           `json:"scan_time"`
	Repository      *gitx.RepoInfo   `json:"repository,omitempty"`
}

// Report is the aggregate outcome of a scan
type Report struct {
	Status       string       `json:"status"`
	Findings     []Finding    `json:"findings"`
	ScanMetadata ScanMetadata `json:"scan_metadata"`
}

// NewReport builds the report for result. repo may be nil when the target is
// not inside a Git worktree.
func NewReport(result *scanner.Result, repo *gitx.RepoInfo) *Report {
	r := &Report{
		Status:   StatusPass,
		Findings: make([]Finding, 0, len(result.Findings)),
		ScanMetadata: ScanMetadata{
			FilesScanned:    result.Stats.FilesScanned,
			TotalLines:      result.Stats.TotalLines,
			ExcludedFiles:   append([]string{}, result.Stats.ExcludedPaths...),
			UnreadableFiles: make([]UnreadableFile, 0, len(result.Stats.Unreadable)),
			Complete:        result.Stats.Complete(),
			ScanTime:        FormatScanTime(result.Duration),
			Repository:      repo,
		},
	}

	for _, f := range result.Findings {
		r.Findings = append(r.Findings, Finding{Finding: f, Fingerprint: Fingerprint(f)})
	}
	if len(r.Findings) > 0 {
		r.Status = StatusFail
	}
	for _, u := range result.Stats.Unreadable {
		r.ScanMetadata.UnreadableFiles = append(r.ScanMetadata.UnreadableFiles, UnreadableFile{
			Path:  u.Path,
			Error: u.Err.Error(),
		})
	}
	return r
}

// HasFindingsAtLeast reports whether any finding is at or above threshold
func (r *Report) HasFindingsAtLeast(threshold rules.Severity) bool {
	for _, f := range r.Findings {
		if f.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}

// FormatScanTime renders d as whole seconds and tenths, e.g. "1.3s"
func FormatScanTime(d time.Duration) string {
	return fmt.Sprintf("%d.%ds", int64(d/time.Second), int64(d%time.Second/(100*time.Millisecond)))
}

// Fingerprint identifies a finding independently of its line number, so it
// survives unrelated edits above the match.
func Fingerprint(f scanner.Finding) string {
	sum := xxhash.Sum64String(f.RuleName + "\x00" + f.Path + "\x00" + f.MatchedContent)
	return fmt.Sprintf("%016x", sum)
}

// WriteReport writes the report to w in the given format
func WriteReport(report *Report, outputType OutputType, w io.Writer) error {
	switch outputType {
	case OutputTypeConsole:
		return writeConsole(report, w)
	case OutputTypeJSON:
		return writeJSON(report, w)
	case OutputTypeSARIF:
		return writeSARIF(report, w)
	default:
		return fmt.Errorf("unsupported output type: %s", outputType)
	}
}

// writeConsole writes findings in a human-readable table format followed by
// the scan summary.
func writeConsole(report *Report, w io.Writer) error {
	if len(report.Findings) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Severity", "Type", "File", "Line", "Match"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 5, WidthMax: 60, WidthMaxEnforcer: text.Trim},
		})

		for _, f := range report.Findings {
			t.AppendRow(table.Row{
				colorSeverity(f.Severity),
				f.FindingType,
				f.Path,
				f.Line,
				firstLine(f.MatchedContent),
			})
		}
		t.Render()
	}

	meta := report.ScanMetadata
	status := color.GreenString(report.Status)
	if report.Status == StatusFail {
		status = color.RedString(report.Status)
	}
	fmt.Fprintf(w, "\nStatus: %s\n", status)
	fmt.Fprintf(w, "Findings: %d\n", len(report.Findings))
	fmt.Fprintf(w, "Files scanned: %d (%d lines) in %s\n", meta.FilesScanned, meta.TotalLines, meta.ScanTime)
	if len(meta.ExcludedFiles) > 0 {
		fmt.Fprintf(w, "Excluded files: %d\n", len(meta.ExcludedFiles))
	}
	if meta.Repository != nil {
		fmt.Fprintf(w, "Repository: %s\n", meta.Repository)
	}
	if !meta.Complete {
		fmt.Fprintf(w, "%s %d file(s) could not be read:\n", color.YellowString("Incomplete scan:"), len(meta.UnreadableFiles))
		for _, u := range meta.UnreadableFiles {
			fmt.Fprintf(w, "  %s: %s\n", u.Path, u.Error)
		}
	}
	return nil
}

func colorSeverity(s rules.Severity) string {
	switch s {
	case rules.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case rules.SeverityHigh:
		return color.RedString(string(s))
	case rules.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

// firstLine shortens a multi-line match to its first line
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// writeJSON writes the report in JSON format
func writeJSON(report *Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// writeSARIF writes findings in SARIF format
func writeSARIF(report *Report, w io.Writer) error {
	sarif := generateSARIF(report)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sarif)
}

func generateSARIF(report *Report) map[string]interface{} {
	rulesList := []map[string]interface{}{}
	results := []map[string]interface{}{}
	seen := make(map[string]bool)

	for _, f := range report.Findings {
		if !seen[f.RuleName] {
			rulesList = append(rulesList, map[string]interface{}{
				"id":   f.RuleName,
				"name": f.FindingType,
				"shortDescription": map[string]interface{}{
					"text": f.FindingType + " detected",
				},
				"defaultConfiguration": map[string]interface{}{
					"level": mapSeverityToLevel(f.Severity),
				},
			})
			seen[f.RuleName] = true
		}

		results = append(results, map[string]interface{}{
			"ruleId":  f.RuleName,
			"level":   mapSeverityToLevel(f.Severity),
			"message": map[string]interface{}{"text": fmt.Sprintf("%s detected", f.FindingType)},
			"locations": []map[string]interface{}{
				{
					"physicalLocation": map[string]interface{}{
						"artifactLocation": map[string]interface{}{
							"uri": f.Path,
						},
						"region": map[string]interface{}{
							"startLine": f.Line,
						},
					},
				},
			},
			"partialFingerprints": map[string]interface{}{
				"keywatch/v1": f.Fingerprint,
			},
		})
	}

	run := map[string]interface{}{
		"tool": map[string]interface{}{
			"driver": map[string]interface{}{
				"name":           "KeyWatch",
				"informationUri": "https://github.com/ejagojo/KeyWatch",
				"rules":          rulesList,
			},
		},
		"results": results,
		"invocations": []map[string]interface{}{
			{"executionSuccessful": report.ScanMetadata.Complete},
		},
	}

	return map[string]interface{}{
		"version": "2.1.0",
		"$schema": "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		"runs":    []map[string]interface{}{run},
	}
}

// mapSeverityToLevel maps our severity levels to SARIF levels
func mapSeverityToLevel(severity rules.Severity) string {
	switch severity {
	case rules.SeverityCritical, rules.SeverityHigh:
		return "error"
	case rules.SeverityMedium:
		return "warning"
	case rules.SeverityLow:
		return "note"
	default:
		return "none"
	}
}
