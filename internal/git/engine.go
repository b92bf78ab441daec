// Package git drives local bare mirrors and bundle artifacts through the
// git executable.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/inovacc/starkeep/internal/model"
)

// Engine creates and updates local bare mirrors and derives bundle
// artifacts from them.
type Engine struct {
	GitPath string // Path to git executable
	TempDir string // Working area for mirrors and bundles

	logger *slog.Logger
	now    func() time.Time
}

// NewEngine verifies git is available and prepares the working area.
func NewEngine(tempDir string, logger *slog.Logger) (*Engine, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(tempDir, "mirrors"), 0o755); err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(tempDir, "bundles"), 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		GitPath: gitPath,
		TempDir: tempDir,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// MirrorPath returns the on-disk location for a repository's mirror.
func (e *Engine) MirrorPath(fullName string) string {
	safeName := strings.ReplaceAll(fullName, "/", "_")
	return filepath.Join(e.TempDir, "mirrors", safeName+".git")
}

// run executes a git command and captures combined output.
func (e *Engine) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.GitPath, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", NewGitError(args, string(output), err)
	}

	return string(output), nil
}

// OpenMirror clones or updates the bare mirror for a repository and
// returns a handle plus whether HEAD moved. A fresh clone always counts
// as changed. The caller owns the handle and must Destroy it.
func (e *Engine) OpenMirror(ctx context.Context, fullName, cloneURL string) (*Mirror, bool, error) {
	path := e.MirrorPath(fullName)
	mirror := &Mirror{engine: e, fullName: fullName, path: path}

	if _, err := os.Stat(path); err == nil {
		e.logger.Info("updating mirror", slog.String("repo", fullName))

		oldHead, _ := mirror.Head(ctx)

		if _, err := e.run(ctx, path, "fetch", "--all", "--prune"); err != nil {
			return mirror, false, fmt.Errorf("updating mirror for %s: %w", fullName, err)
		}

		newHead, _ := mirror.Head(ctx)

		return mirror, oldHead != newHead, nil
	}

	e.logger.Info("cloning mirror", slog.String("repo", fullName))

	if _, err := e.run(ctx, "", "clone", "--mirror", cloneURL, path); err != nil {
		return mirror, false, fmt.Errorf("cloning mirror for %s: %w", fullName, err)
	}

	return mirror, true, nil
}

// Mirror is an ephemeral handle on a local bare mirror. It exists only
// while one repository is processed and must be destroyed afterward
// regardless of outcome.
type Mirror struct {
	engine   *Engine
	fullName string
	path     string
}

// Path returns the mirror's on-disk location.
func (m *Mirror) Path() string {
	return m.path
}

// Head returns the mirror's HEAD commit, or "" for an empty repository.
func (m *Mirror) Head(ctx context.Context) (string, error) {
	out, err := m.engine.run(ctx, m.path, "rev-parse", "HEAD")
	if err != nil {
		// Empty repository: HEAD resolves to nothing.
		if IsUnknownRevision(err) {
			return "", nil
		}
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// CommitReachable reports whether a commit still exists in the mirror and
// is an ancestor of HEAD. False means the upstream history diverged.
func (m *Mirror) CommitReachable(ctx context.Context, commit string) bool {
	if commit == "" {
		return false
	}

	if _, err := m.engine.run(ctx, m.path, "cat-file", "-e", commit+"^{commit}"); err != nil {
		return false
	}

	_, err := m.engine.run(ctx, m.path, "merge-base", "--is-ancestor", commit, "HEAD")

	return err == nil
}

// Bundle is a self-contained portable snapshot file derived from a mirror.
type Bundle struct {
	Name       string
	Path       string
	Type       model.BundleType
	CommitHash string
	FileSize   int64
}

// CreateFullBundle writes and verifies a bundle holding the entire
// mirror history.
func (m *Mirror) CreateFullBundle(ctx context.Context) (*Bundle, error) {
	head, err := m.Head(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := m.engine.now().Format("20060102_150405")
	safeName := strings.ReplaceAll(m.fullName, "/", "_")
	name := fmt.Sprintf("%s_full_%s.bundle", safeName, timestamp)
	path := filepath.Join(m.engine.TempDir, "bundles", name)

	if _, err := m.engine.run(ctx, m.path, "bundle", "create", path, "--all"); err != nil {
		return nil, fmt.Errorf("creating full bundle for %s: %w", m.fullName, err)
	}

	if _, err := m.engine.run(ctx, m.path, "bundle", "verify", path); err != nil {
		return nil, fmt.Errorf("verifying bundle for %s: %w", m.fullName, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	m.engine.logger.Info("full bundle created",
		slog.String("repo", m.fullName),
		slog.String("bundle", name),
		slog.Int64("size", info.Size()),
	)

	return &Bundle{
		Name:       name,
		Path:       path,
		Type:       model.BundleFull,
		CommitHash: head,
		FileSize:   info.Size(),
	}, nil
}

// CreateIncrementalBundle writes a bundle spanning (base, HEAD]. A nil
// bundle with nil error means there is nothing beyond base — the caller
// treats that as a skip, not a failure.
func (m *Mirror) CreateIncrementalBundle(ctx context.Context, base string) (*Bundle, error) {
	head, err := m.Head(ctx)
	if err != nil {
		return nil, err
	}

	if head == base {
		m.engine.logger.Info("no new commits", slog.String("repo", m.fullName))
		return nil, nil
	}

	timestamp := m.engine.now().Format("20060102_150405")
	safeName := strings.ReplaceAll(m.fullName, "/", "_")
	shortHash := head
	if len(shortHash) > 8 {
		shortHash = shortHash[:8]
	}
	name := fmt.Sprintf("%s_incr_%s_%s.bundle", safeName, timestamp, shortHash)
	path := filepath.Join(m.engine.TempDir, "bundles", name)

	if _, err := m.engine.run(ctx, m.path, "bundle", "create", path, base+"..HEAD", "--all"); err != nil {
		if IsEmptyBundle(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("creating incremental bundle for %s: %w", m.fullName, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	m.engine.logger.Info("incremental bundle created",
		slog.String("repo", m.fullName),
		slog.String("bundle", name),
		slog.String("base", base),
		slog.Int64("size", info.Size()),
	)

	return &Bundle{
		Name:       name,
		Path:       path,
		Type:       model.BundleIncremental,
		CommitHash: head,
		FileSize:   info.Size(),
	}, nil
}

// Destroy removes the mirror from disk. Idempotent.
func (m *Mirror) Destroy() error {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(m.path); err != nil {
		return fmt.Errorf("removing mirror %s: %w", m.path, err)
	}

	m.engine.logger.Debug("mirror destroyed", slog.String("repo", m.fullName))

	return nil
}

// RemoveBundle deletes a local bundle file after upload.
func (e *Engine) RemoveBundle(bundlePath string) error {
	if err := os.Remove(bundlePath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
