// Package engine orchestrates backup runs: gathering starred
// repositories, deciding full versus incremental artifacts, checkpointing
// progress, and reacting to resource exhaustion.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inovacc/starkeep/internal/config"
	"github.com/inovacc/starkeep/internal/git"
	"github.com/inovacc/starkeep/internal/model"
	"github.com/inovacc/starkeep/internal/notify"
	"github.com/inovacc/starkeep/internal/store"
)

// MetadataSource supplies star listings and per-repository facts.
type MetadataSource interface {
	ListStarred(ctx context.Context, account string) ([]*model.Repository, error)
	Fetch(ctx context.Context, fullName string) (*model.Repository, error)
}

// Mirror is an ephemeral handle on a local bare mirror.
type Mirror interface {
	Head(ctx context.Context) (string, error)
	CommitReachable(ctx context.Context, commit string) bool
	CreateFullBundle(ctx context.Context) (*git.Bundle, error)
	CreateIncrementalBundle(ctx context.Context, base string) (*git.Bundle, error)
	Destroy() error
}

// MirrorOpener creates mirror handles and cleans up bundle files.
type MirrorOpener interface {
	OpenMirror(ctx context.Context, fullName, cloneURL string) (Mirror, bool, error)
	RemoveBundle(path string) error
}

// BlobStore is the remote artifact store.
type BlobStore interface {
	Put(localPath, fullName, filename string) (string, error)
	ArchiveBundles(fullName string, when time.Time) error
	PutMetadata(fullName, filename string, v any) error
	UploadDatabase(localPath string) error
}

// GitOpener adapts git.Engine to the MirrorOpener interface.
type GitOpener struct {
	*git.Engine
}

func (g GitOpener) OpenMirror(ctx context.Context, fullName, cloneURL string) (Mirror, bool, error) {
	mirror, changed, err := g.Engine.OpenMirror(ctx, fullName, cloneURL)
	if mirror == nil {
		return nil, changed, err
	}

	return mirror, changed, err
}

// Engine runs backups sequentially with a single worker.
type Engine struct {
	cfg      *config.Config
	source   MetadataSource
	mirrors  MirrorOpener
	blobs    BlobStore
	db       store.Store
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an engine from its collaborators.
func New(cfg *config.Config, source MetadataSource, mirrors MirrorOpener, blobs BlobStore, db store.Store, notifier *notify.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	if notifier == nil {
		notifier = notify.NewNotifier()
	}

	return &Engine{
		cfg:      cfg,
		source:   source,
		mirrors:  mirrors,
		blobs:    blobs,
		db:       db,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one full backup pass and returns its summary. The summary
// is returned even when the run aborts early, so callers can report
// partial progress.
func (e *Engine) Run(ctx context.Context) (*model.Summary, error) {
	queue, err := e.gather(ctx)
	if err != nil {
		return nil, err
	}

	skip, err := e.skipSet()
	if err != nil {
		return nil, err
	}

	session, startIndex := e.resumeSession(queue)

	summary := &model.Summary{
		TotalRepos: len(queue),
		StartTime:  e.now().UTC(),
	}

	e.notifier.Start(ctx, len(queue), e.cfg.GitHub.Users)

	e.logger.Info("backup run started",
		slog.String("session", session.SessionID),
		slog.Int("total", len(queue)),
		slog.Int("start_index", startIndex),
	)

	var abortErr error

	for i := startIndex; i < len(queue); i++ {
		repo := queue[i]

		if ctx.Err() != nil {
			abortErr = ctx.Err()
			break
		}

		// Checkpoint before touching the repository. A crash mid-repo
		// resumes at the next one, so a poisonous repository cannot wedge
		// the run forever.
		session.CurrentIndex = i
		session.LastRepoFullName = repo.FullName
		if err := e.db.SaveSession(session); err != nil {
			abortErr = fmt.Errorf("saving checkpoint: %w", err)
			break
		}

		if _, excluded := skip[repo.FullName]; excluded {
			e.logger.Info("repository on skip list", slog.String("repo", repo.FullName))
			summary.Tally(model.Result{Repository: repo, Outcome: model.OutcomeSkipped})
			continue
		}

		e.notifier.Progress(ctx, i+1, len(queue), repo.FullName, summary)

		result := e.processRepo(ctx, repo)
		summary.Tally(result)

		if result.Outcome == model.OutcomeFailed {
			if stop := e.handleFailure(ctx, repo, result.Err); stop {
				abortErr = fmt.Errorf("remote storage full, aborting run: %w", result.Err)
				break
			}
			continue
		}

		if result.Outcome == model.OutcomeDeleted {
			e.notifier.Deleted(ctx, repo.FullName)
		}

		// Cooldown only after real work, so skip-heavy runs stay fast.
		if result.Outcome == model.OutcomeSuccess && e.cfg.Backup.Cooldown > 0 {
			select {
			case <-ctx.Done():
				abortErr = ctx.Err()
			case <-time.After(e.cfg.Backup.Cooldown):
			}
			if abortErr != nil {
				break
			}
		}
	}

	// An aborted run keeps its checkpoint so the next invocation resumes
	// where this one stopped.
	if abortErr == nil {
		if err := e.db.CompleteSession(session.SessionID); err != nil {
			e.logger.Warn("completing session", slog.String("error", err.Error()))
		}
	}

	summary.EndTime = e.now().UTC()

	// Best effort: the catalog snapshot is a convenience copy, losing it
	// does not fail the run.
	if err := e.blobs.UploadDatabase(e.cfg.Backup.DBPath); err != nil {
		e.logger.Warn("uploading catalog snapshot", slog.String("error", err.Error()))
	}

	e.notifier.Complete(ctx, summary)

	e.logger.Info("backup run finished",
		slog.String("session", session.SessionID),
		slog.Int("success", summary.SuccessCount),
		slog.Int("skipped", summary.SkippedCount),
		slog.Int("failed", summary.FailedCount),
		slog.Int("deleted", summary.DeletedCount),
		slog.String("duration", summary.DurationString()),
	)

	return summary, abortErr
}

// handleFailure reacts to a failed repository. It returns true when the
// rest of the queue must be abandoned.
func (e *Engine) handleFailure(ctx context.Context, repo *model.Repository, err error) bool {
	switch Classify(err) {
	case KindDiskFull:
		e.logger.Error("local resources exhausted, adding to skip list",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)

		if skipErr := e.db.AddSkipEntry(repo.FullName, truncateReason(err)); skipErr != nil {
			e.logger.Warn("recording skip entry", slog.String("error", skipErr.Error()))
		}

		e.notifier.Error(ctx, repo.FullName, "local storage exhausted, repository added to skip list")

		return false

	case KindRemoteFull:
		e.logger.Error("remote storage full, aborting run",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)

		e.notifier.Error(ctx, repo.FullName, "remote storage full, run aborted")

		return true

	default:
		e.logger.Error("backup failed",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)

		e.notifier.Error(ctx, repo.FullName, err.Error())

		return false
	}
}

// skipSet merges the configured exclusions with the persisted skip list.
func (e *Engine) skipSet() (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(e.cfg.Backup.SkipRepos))

	for _, name := range e.cfg.Backup.SkipRepos {
		set[name] = struct{}{}
	}

	entries, err := e.db.ListSkipEntries()
	if err != nil {
		return nil, fmt.Errorf("loading skip list: %w", err)
	}

	for _, entry := range entries {
		set[entry.FullName] = struct{}{}
	}

	return set, nil
}
