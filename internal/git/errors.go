package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Common error messages from git
const (
	errMsgEmptyBundle     = "refusing to create empty bundle"
	errMsgUnknownRevision = "unknown revision"
	errMsgAmbiguousHEAD   = "ambiguous argument 'head'"
	errMsgNotRepository   = "not a git repository"
	errMsgAuthFailed      = "authentication failed"
	errMsgRepoNotFound    = "repository not found"
)

// GitError represents a git command error with captured stderr.
type GitError struct {
	ExitCode int
	Stderr   string
	Args     []string
	err      error
}

func (e *GitError) Error() string {
	if e.Stderr == "" {
		return fmt.Errorf("git command failed: %w", e.err).Error()
	}
	return fmt.Sprintf("git command failed: %s", strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error {
	return e.err
}

// NewGitError creates a GitError from command output and error.
func NewGitError(args []string, stderr string, err error) *GitError {
	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &GitError{
		ExitCode: exitCode,
		Stderr:   stderr,
		Args:     args,
		err:      err,
	}
}

// IsEmptyBundle checks if the error indicates a bundle with no commits.
func IsEmptyBundle(err error) bool {
	return containsError(err, errMsgEmptyBundle)
}

// IsUnknownRevision checks if the error indicates an unresolvable ref,
// which is what an empty repository reports for HEAD.
func IsUnknownRevision(err error) bool {
	return containsError(err, errMsgUnknownRevision) || containsError(err, errMsgAmbiguousHEAD)
}

// IsNotRepository checks if the error indicates not a git repository.
func IsNotRepository(err error) bool {
	return containsError(err, errMsgNotRepository)
}

// IsAuthRequired checks if the error indicates authentication is required.
func IsAuthRequired(err error) bool {
	return containsError(err, errMsgAuthFailed)
}

// IsRepoNotFound checks if the error indicates the remote repository is gone.
func IsRepoNotFound(err error) bool {
	return containsError(err, errMsgRepoNotFound)
}

// containsError checks if the error contains a specific message.
func containsError(err error, msg string) bool {
	if err == nil {
		return false
	}

	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return strings.Contains(strings.ToLower(gitErr.Stderr), msg)
	}

	return strings.Contains(strings.ToLower(err.Error()), msg)
}
