package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inovacc/starkeep/internal/model"
)

// gather lists stars across all configured accounts, deduplicates by full
// name preserving first-occurrence order, and records catalog rows and
// provenance edges before any backup work starts.
func (e *Engine) gather(ctx context.Context) ([]*model.Repository, error) {
	seen := make(map[string]*model.Repository)

	var (
		queue   []*model.Repository
		listErr []error
	)

	for _, account := range e.cfg.GitHub.Users {
		repos, err := e.source.ListStarred(ctx, account)
		if err != nil {
			// One unreadable account does not sink the others.
			e.logger.Error("listing stars failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			listErr = append(listErr, err)

			continue
		}

		for _, repo := range repos {
			existing, dup := seen[repo.FullName]
			if !dup {
				id, err := e.db.UpsertRepository(repo)
				if err != nil {
					return nil, fmt.Errorf("recording %s: %w", repo.FullName, err)
				}
				repo.ID = id

				seen[repo.FullName] = repo
				queue = append(queue, repo)
				existing = repo
			}

			if err := e.db.AddStarSource(existing.ID, account); err != nil {
				return nil, fmt.Errorf("recording star source for %s: %w", repo.FullName, err)
			}
		}
	}

	if len(queue) == 0 && len(listErr) > 0 {
		return nil, fmt.Errorf("no star lists readable: %w", errors.Join(listErr...))
	}

	e.logger.Info("gathered repositories",
		slog.Int("unique", len(queue)),
		slog.Int("accounts", len(e.cfg.GitHub.Users)),
	)

	return queue, nil
}
