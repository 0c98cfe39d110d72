package e2e

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// BinaryEnv names the environment variable that overrides the binary under test
const BinaryEnv = "KEYWATCH_BIN"

// TestHelper provides utilities for end-to-end tests
type TestHelper struct {
	t       *testing.T
	workDir string
	binary  string
}

// NewTestHelper creates a new test helper. The keywatch binary is taken from
// $KEYWATCH_BIN or looked up in PATH; the test is skipped when neither exists.
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()

	binary := os.Getenv(BinaryEnv)
	if binary == "" {
		path, err := exec.LookPath("keywatch")
		if err != nil {
			t.Skipf("keywatch binary not found; build it or set %s", BinaryEnv)
		}
		binary = path
	}

	return &TestHelper{
		t:       t,
		workDir: t.TempDir(),
		binary:  binary,
	}
}

// WorkDir returns the directory commands run in
func (h *TestHelper) WorkDir() string {
	return h.workDir
}

// WriteFile creates a file below the work directory and returns its path
func (h *TestHelper) WriteFile(name, content string) string {
	h.t.Helper()

	path := filepath.Join(h.workDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// InitRepo turns the work directory into a Git repository with one commit
// holding everything written so far.
func (h *TestHelper) InitRepo() string {
	h.t.Helper()

	repo, err := git.PlainInit(h.workDir, false)
	if err != nil {
		h.t.Fatalf("failed to init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		h.t.Fatalf("failed to get worktree: %v", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		h.t.Fatalf("failed to stage files: %v", err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com"},
	})
	if err != nil {
		h.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// Run runs keywatch with args in the work directory
func (h *TestHelper) Run(args ...string) (string, string, error) {
	return h.RunCommand(h.binary, args...)
}

// RunCommand runs a command and returns its output
func (h *TestHelper) RunCommand(name string, args ...string) (string, string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = h.workDir
	cmd.Env = append(os.Environ(), "HOME="+h.workDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// AssertOutput asserts that the command output matches the expected pattern
func (h *TestHelper) AssertOutput(stdout, stderr string, expectedPattern string) {
	h.t.Helper()
	if !strings.Contains(stdout+stderr, expectedPattern) {
		h.t.Errorf("output does not contain expected pattern %q", expectedPattern)
	}
}

// AssertExitCode asserts that the command exited with the expected code
func (h *TestHelper) AssertExitCode(err error, expectedCode int) {
	h.t.Helper()
	if err == nil {
		if expectedCode != 0 {
			h.t.Errorf("expected exit code %d, got 0", expectedCode)
		}
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() != expectedCode {
			h.t.Errorf("expected exit code %d, got %d", expectedCode, exitErr.ExitCode())
		}
	} else {
		h.t.Errorf("unexpected error: %v", err)
	}
}
