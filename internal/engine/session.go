package engine

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/inovacc/starkeep/internal/model"
)

// resumeSession returns the session to run under and the queue index to
// start from. An interrupted run resumes one past its checkpoint; when
// the checkpointed repository is no longer in the queue the run fails
// open and starts from the beginning under a fresh session.
func (e *Engine) resumeSession(queue []*model.Repository) (*model.Session, int) {
	if e.cfg.Backup.ResumeFromLast {
		if prior, err := e.db.LatestRunningSession(); err != nil {
			e.logger.Warn("loading prior session", slog.String("error", err.Error()))
		} else if prior != nil {
			// A checkpoint on the final repository resumes with an empty
			// window: the loop runs zero times and the session completes.
			if pos := indexOf(queue, prior.LastRepoFullName); pos >= 0 {
				e.logger.Info("resuming interrupted run",
					slog.String("session", prior.SessionID),
					slog.String("after", prior.LastRepoFullName),
					slog.Int("start_index", pos+1),
				)

				prior.TotalRepos = len(queue)

				return prior, pos + 1
			}

			// Checkpoint no longer maps onto the current star list. Close
			// it out and start over.
			e.logger.Info("prior checkpoint unusable, starting fresh",
				slog.String("session", prior.SessionID),
			)

			if err := e.db.CompleteSession(prior.SessionID); err != nil {
				e.logger.Warn("completing stale session", slog.String("error", err.Error()))
			}
		}
	}

	return &model.Session{
		SessionID:  uuid.NewString(),
		TotalRepos: len(queue),
		Status:     model.SessionRunning,
		StartedAt:  e.now().UTC(),
	}, 0
}

func indexOf(queue []*model.Repository, fullName string) int {
	if fullName == "" {
		return -1
	}

	for i, repo := range queue {
		if repo.FullName == fullName {
			return i
		}
	}

	return -1
}
