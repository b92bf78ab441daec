package engine

import (
	"context"
	"fmt"

	"github.com/inovacc/starkeep/internal/model"
)

// BackupOne runs the pipeline for a single repository, outside any
// session. Used for ad-hoc backups from the command line.
func (e *Engine) BackupOne(ctx context.Context, fullName string) (*model.Result, error) {
	if _, _, err := model.SplitFullName(fullName); err != nil {
		return nil, err
	}

	repo, err := e.db.GetRepositoryByFullName(fullName)
	if err != nil {
		return nil, fmt.Errorf("loading %s from catalog: %w", fullName, err)
	}

	if repo == nil {
		// Not cataloged yet. Pull the facts and register it.
		current, err := e.source.Fetch(ctx, fullName)
		if err != nil {
			return nil, err
		}

		if current == nil {
			return nil, fmt.Errorf("repository %s not found on GitHub", fullName)
		}

		id, err := e.db.UpsertRepository(current)
		if err != nil {
			return nil, fmt.Errorf("recording %s: %w", fullName, err)
		}
		current.ID = id
		repo = current
	}

	result := e.processRepo(ctx, repo)

	return &result, result.Err
}
