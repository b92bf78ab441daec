package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inovacc/starkeep/internal/git"
	"github.com/inovacc/starkeep/internal/model"
)

// repoMetadata is the JSON descriptor stored alongside each repository's
// artifacts so the remote store is readable without the catalog.
type repoMetadata struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description,omitempty"`
	HTMLURL     string    `json:"html_url,omitempty"`
	CloneURL    string    `json:"clone_url,omitempty"`
	PushedAt    time.Time `json:"pushed_at,omitzero"`
	StarredBy   []string  `json:"starred_by,omitempty"`
	LastBundle  string    `json:"last_bundle"`
	LastCommit  string    `json:"last_commit"`
	BackupTime  time.Time `json:"backup_time"`
}

// processRepo runs the full pipeline for one repository: existence check,
// staleness short-circuit, mirror sync, artifact creation, upload, and
// record keeping. The mirror is destroyed on every path, including panics.
func (e *Engine) processRepo(ctx context.Context, repo *model.Repository) (result model.Result) {
	result = model.Result{Repository: repo}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = model.OutcomeFailed
			result.Err = fmt.Errorf("panic processing %s: %v", repo.FullName, r)
		}
	}()

	current, err := e.source.Fetch(ctx, repo.FullName)
	if err != nil {
		result.Outcome = model.OutcomeFailed
		result.Err = err

		return result
	}

	if current == nil {
		// Gone upstream. Flag it, keep every existing artifact.
		e.logger.Warn("repository deleted upstream", slog.String("repo", repo.FullName))

		if err := e.db.MarkRepositoryDeleted(repo.FullName); err != nil {
			result.Outcome = model.OutcomeFailed
			result.Err = err

			return result
		}

		result.Outcome = model.OutcomeDeleted

		return result
	}

	e.refreshFacts(repo, current)

	latest, err := e.db.LatestBackup(repo.ID)
	if err != nil {
		result.Outcome = model.OutcomeFailed
		result.Err = err

		return result
	}

	// Staleness short-circuit: nothing pushed since the last artifact
	// means no mirror work at all.
	if latest != nil && !repo.PushedAt.IsZero() && !repo.PushedAt.UTC().After(latest.BackupTime.UTC()) {
		e.logger.Info("repository unchanged since last backup",
			slog.String("repo", repo.FullName),
			slog.Time("pushed_at", repo.PushedAt),
		)

		result.Outcome = model.OutcomeSkipped

		return result
	}

	mirror, changed, err := e.mirrors.OpenMirror(ctx, repo.FullName, repo.CloneURL)
	if mirror != nil {
		defer func() {
			if destroyErr := mirror.Destroy(); destroyErr != nil {
				e.logger.Warn("destroying mirror",
					slog.String("repo", repo.FullName),
					slog.String("error", destroyErr.Error()),
				)
			}
		}()
	}
	if err != nil {
		result.Outcome = model.OutcomeFailed
		result.Err = err

		return result
	}

	// The mirror already held everything the last backup captured.
	if !changed && latest != nil {
		e.logger.Info("mirror unchanged since last backup", slog.String("repo", repo.FullName))

		result.Outcome = model.OutcomeSkipped

		return result
	}

	bundle, err := e.createArtifact(ctx, repo, mirror, latest)
	if err != nil {
		result.Outcome = model.OutcomeFailed
		result.Err = err

		return result
	}

	if bundle == nil {
		// Up to date, or an empty repository. Normal outcome.
		result.Outcome = model.OutcomeSkipped

		return result
	}

	remotePath, err := e.publish(repo, bundle)
	if err != nil {
		result.Outcome = model.OutcomeFailed
		result.Err = err

		return result
	}

	result.Outcome = model.OutcomeSuccess
	result.BundleType = bundle.Type
	result.RemotePath = remotePath

	return result
}

// refreshFacts copies current upstream facts onto the catalog row.
func (e *Engine) refreshFacts(repo, current *model.Repository) {
	repo.Description = current.Description
	repo.HTMLURL = current.HTMLURL
	repo.CloneURL = current.CloneURL
	repo.PushedAt = current.PushedAt
	repo.IsDeleted = false

	if _, err := e.db.UpsertRepository(repo); err != nil {
		e.logger.Warn("refreshing repository facts",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)
	}
}

// createArtifact decides between a full bundle, an incremental bundle, or
// nothing. A nil bundle with nil error means there was nothing to back up.
func (e *Engine) createArtifact(ctx context.Context, repo *model.Repository, mirror Mirror, latest *model.BackupRecord) (*git.Bundle, error) {
	if latest == nil {
		return e.fullBundle(ctx, mirror)
	}

	if !mirror.CommitReachable(ctx, latest.CommitHash) {
		// Upstream history diverged from the recorded chain. The old
		// artifacts stay retrievable under an archive directory and a
		// fresh full bundle restarts the chain.
		e.logger.Warn("history diverged, archiving old artifacts",
			slog.String("repo", repo.FullName),
			slog.String("base", latest.CommitHash),
		)

		if err := e.blobs.ArchiveBundles(repo.FullName, e.now().UTC()); err != nil {
			return nil, fmt.Errorf("archiving diverged artifacts for %s: %w", repo.FullName, err)
		}

		return e.fullBundle(ctx, mirror)
	}

	bundle, err := mirror.CreateIncrementalBundle(ctx, latest.CommitHash)
	if err != nil {
		// The incremental chain is unusable for reasons reachability did
		// not catch. Archive it and restart with a full bundle. The full
		// bundle is self-contained, so a failed archive attempt must not
		// fail the repository.
		e.logger.Warn("incremental bundle failed, falling back to full",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)

		if archiveErr := e.blobs.ArchiveBundles(repo.FullName, e.now().UTC()); archiveErr != nil {
			e.logger.Warn("archiving artifacts before full fallback",
				slog.String("repo", repo.FullName),
				slog.String("error", archiveErr.Error()),
			)
		}

		return e.fullBundle(ctx, mirror)
	}

	return bundle, nil
}

// fullBundle creates a full bundle, treating an empty repository as
// nothing-to-do.
func (e *Engine) fullBundle(ctx context.Context, mirror Mirror) (*git.Bundle, error) {
	bundle, err := mirror.CreateFullBundle(ctx)
	if err != nil {
		if git.IsEmptyBundle(err) {
			return nil, nil
		}

		return nil, err
	}

	return bundle, nil
}

// publish uploads a bundle, records it in the catalog, and refreshes the
// remote metadata descriptor.
func (e *Engine) publish(repo *model.Repository, bundle *git.Bundle) (string, error) {
	remotePath, err := e.blobs.Put(bundle.Path, repo.FullName, bundle.Name)
	if err != nil {
		return "", err
	}

	backupTime := e.now().UTC()

	if _, err := e.db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     repo.ID,
		BundleName: bundle.Name,
		BundleType: bundle.Type,
		CommitHash: bundle.CommitHash,
		FileSize:   bundle.FileSize,
		RemotePath: remotePath,
		BackupTime: backupTime,
	}); err != nil {
		return "", fmt.Errorf("recording backup of %s: %w", repo.FullName, err)
	}

	accounts, err := e.db.ListStarSources(repo.ID)
	if err != nil {
		e.logger.Warn("listing star sources", slog.String("error", err.Error()))
	}

	if err := e.blobs.PutMetadata(repo.FullName, "metadata.json", &repoMetadata{
		FullName:    repo.FullName,
		Description: repo.Description,
		HTMLURL:     repo.HTMLURL,
		CloneURL:    repo.CloneURL,
		PushedAt:    repo.PushedAt,
		StarredBy:   accounts,
		LastBundle:  bundle.Name,
		LastCommit:  bundle.CommitHash,
		BackupTime:  backupTime,
	}); err != nil {
		// Descriptor is a convenience, the bundle already landed.
		e.logger.Warn("writing metadata descriptor",
			slog.String("repo", repo.FullName),
			slog.String("error", err.Error()),
		)
	}

	if e.cfg.Backup.CleanupTemp {
		if err := e.mirrors.RemoveBundle(bundle.Path); err != nil {
			e.logger.Warn("removing local bundle", slog.String("error", err.Error()))
		}
	}

	return remotePath, nil
}
