package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/inovacc/starkeep/internal/config"
	"github.com/inovacc/starkeep/internal/git"
	"github.com/inovacc/starkeep/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, src *fakeSource, opener *fakeOpener, blobs *fakeBlobs, db *memStore, users ...string) (*Engine, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.GitHub.Users = users
	cfg.Backup.Cooldown = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(&cfg, src, opener, blobs, db, nil, logger), &cfg
}

func testRepo(fullName string, pushed time.Time) *model.Repository {
	owner, name, _ := model.SplitFullName(fullName)

	return &model.Repository{
		Owner:    owner,
		Name:     name,
		FullName: fullName,
		CloneURL: "https://github.com/" + fullName + ".git",
		PushedAt: pushed,
	}
}

func testBundle(bt model.BundleType, commit string) *git.Bundle {
	return &git.Bundle{
		Name:       "artifact.bundle",
		Path:       "/tmp/artifact.bundle",
		Type:       bt,
		CommitHash: commit,
		FileSize:   42,
	}
}

func TestRunFirstBackupIsFull(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now().Add(-time.Hour))
	src.star("alice", repo)

	mirror := &fakeMirror{head: "aaa111", fullBundle: testBundle(model.BundleFull, "aaa111")}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Len(t, blobs.puts, 1)
	assert.True(t, mirror.destroyed, "mirror must be destroyed after processing")
	assert.Equal(t, 1, blobs.dbUploads)
	assert.Contains(t, opener.removed, "/tmp/artifact.bundle")
	assert.Contains(t, blobs.metadata, "alice/widgets/metadata.json")

	stored, err := db.GetRepositoryByFullName(repo.FullName)
	require.NoError(t, err)
	require.NotNil(t, stored)

	rec, err := db.LatestBackup(stored.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.BundleFull, rec.BundleType)
	assert.Equal(t, "aaa111", rec.CommitHash)

	running, err := db.LatestRunningSession()
	require.NoError(t, err)
	assert.Nil(t, running, "session must be completed")
}

func TestRunStalenessShortCircuit(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now().Add(-2*time.Hour))
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleFull,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SkippedCount)
	assert.Empty(t, opener.opened, "unchanged repository must never touch the mirror engine")
}

func TestRunIncrementalFromLatestCommit(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleFull,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{
		head:       "bbb222",
		reachable:  map[string]bool{"aaa111": true},
		incrBundle: testBundle(model.BundleIncremental, "bbb222"),
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, "aaa111", mirror.incrBase, "incremental base must be the recorded commit")
	assert.Empty(t, blobs.archived)

	rec, err := db.LatestBackup(id)
	require.NoError(t, err)
	assert.Equal(t, model.BundleIncremental, rec.BundleType)
	assert.Equal(t, "bbb222", rec.CommitHash)
}

func TestRunHistoryDivergenceArchivesThenFull(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleFull,
		CommitHash: "gone000",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{
		head:       "ccc333",
		reachable:  map[string]bool{},
		fullBundle: testBundle(model.BundleFull, "ccc333"),
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	require.Equal(t, []string{"archive:alice/widgets", "put:alice/widgets"}, blobs.calls,
		"old artifacts must be archived before the new full bundle lands")

	rec, err := db.LatestBackup(id)
	require.NoError(t, err)
	assert.Equal(t, model.BundleFull, rec.BundleType)
}

func TestRunIncrementalFailureFallsBackToFull(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleIncremental,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{
		head:       "bbb222",
		reachable:  map[string]bool{"aaa111": true},
		incrErr:    errors.New("fatal: bad object refs/heads/main"),
		fullBundle: testBundle(model.BundleFull, "bbb222"),
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, []string{"archive:alice/widgets", "put:alice/widgets"}, blobs.calls)

	rec, err := db.LatestBackup(id)
	require.NoError(t, err)
	assert.Equal(t, model.BundleFull, rec.BundleType)
}

func TestRunFullFallbackSurvivesArchiveError(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleIncremental,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{
		head:       "bbb222",
		reachable:  map[string]bool{"aaa111": true},
		incrErr:    errors.New("fatal: bad object refs/heads/main"),
		fullBundle: testBundle(model.BundleFull, "bbb222"),
	}
	opener.mirrors[repo.FullName] = mirror
	blobs.archiveErr[repo.FullName] = errors.New("423 Locked")

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount, "the self-contained full bundle still lands")
	assert.Len(t, blobs.puts, 1)

	rec, err := db.LatestBackup(id)
	require.NoError(t, err)
	assert.Equal(t, model.BundleFull, rec.BundleType)
}

func TestRunDivergenceArchiveErrorFailsRepo(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		BundleType: model.BundleFull,
		CommitHash: "gone000",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	// Diverged history: the old chain must land in the archive before a
	// superseding full bundle may be uploaded.
	opener.mirrors[repo.FullName] = &fakeMirror{
		head:       "ccc333",
		reachable:  map[string]bool{},
		fullBundle: testBundle(model.BundleFull, "ccc333"),
	}
	blobs.archiveErr[repo.FullName] = errors.New("423 Locked")

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedCount)
	assert.Empty(t, blobs.puts, "no upload may supersede an unarchived chain")
}

func TestRunNoNewCommitsIsSkipped(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{
		head:      "aaa111",
		reachable: map[string]bool{"aaa111": true},
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SkippedCount)
	assert.Empty(t, blobs.puts)
	assert.True(t, mirror.destroyed)
}

func TestRunUnchangedMirrorIsSkipped(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	id, err := db.UpsertRepository(cloneRepo(repo))
	require.NoError(t, err)

	_, err = db.SaveBackupRecord(&model.BackupRecord{
		RepoID:     id,
		CommitHash: "aaa111",
		BackupTime: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	mirror := &fakeMirror{head: "aaa111"}
	opener.mirrors[repo.FullName] = mirror
	opener.unchanged[repo.FullName] = true

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SkippedCount)
	assert.Empty(t, blobs.puts)
	assert.True(t, mirror.destroyed)
	assert.Empty(t, mirror.incrBase, "unchanged mirror short-circuits before bundling")
}

func TestRunDiskFullAddsSkipEntryAndContinues(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	big := testRepo("alice/huge", time.Now())
	small := testRepo("alice/small", time.Now())
	src.star("alice", big, small)

	opener.openErr[big.FullName] = errNoSpace
	opener.mirrors[small.FullName] = &fakeMirror{
		head:       "aaa111",
		fullBundle: testBundle(model.BundleFull, "aaa111"),
	}

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 1, summary.SuccessCount, "run continues past a disk-full repository")

	entries, err := db.ListSkipEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice/huge", entries[0].FullName)
}

func TestRunRemoteFullAbortsRemainingQueue(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	first := testRepo("alice/first", time.Now())
	second := testRepo("alice/second", time.Now())
	src.star("alice", first, second)

	opener.mirrors[first.FullName] = &fakeMirror{
		head:       "aaa111",
		fullBundle: testBundle(model.BundleFull, "aaa111"),
	}
	opener.mirrors[second.FullName] = &fakeMirror{
		head:       "bbb222",
		fullBundle: testBundle(model.BundleFull, "bbb222"),
	}

	blobs.putErr[first.FullName] = errors.New("uploading: 507 Insufficient Storage")

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, []string{"alice/first"}, opener.opened, "remaining queue must not be processed")

	entries, err := db.ListSkipEntries()
	require.NoError(t, err)
	assert.Empty(t, entries, "remote exhaustion is not the repository's fault")

	running, err := db.LatestRunningSession()
	require.NoError(t, err)
	require.NotNil(t, running, "aborted run keeps its checkpoint for resume")
	assert.Equal(t, "alice/first", running.LastRepoFullName)
}

func TestRunResumesAfterCheckpoint(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	var repos []*model.Repository
	for _, name := range []string{"alice/a", "alice/b", "alice/c", "alice/d"} {
		repo := testRepo(name, time.Now())
		repos = append(repos, repo)
		opener.mirrors[name] = &fakeMirror{
			head:       "h-" + name,
			fullBundle: testBundle(model.BundleFull, "h-"+name),
		}
	}
	src.star("alice", repos...)

	require.NoError(t, db.SaveSession(&model.Session{
		SessionID:        "prior-session",
		TotalRepos:       4,
		CurrentIndex:     1,
		LastRepoFullName: "alice/b",
		Status:           model.SessionRunning,
		StartedAt:        time.Now().Add(-time.Minute),
	}))

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"alice/c", "alice/d"}, opener.opened)
	assert.Equal(t, 2, summary.SuccessCount)

	running, err := db.LatestRunningSession()
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestRunResumeAtFinalCheckpointFinishesWithoutReprocessing(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	first := testRepo("alice/first", time.Now())
	last := testRepo("alice/last", time.Now())
	src.star("alice", first, last)

	// The prior run crashed on the final repository. Nothing is left to
	// do, so the resumed run must not start over from the top.
	require.NoError(t, db.SaveSession(&model.Session{
		SessionID:        "prior-session",
		TotalRepos:       2,
		CurrentIndex:     1,
		LastRepoFullName: "alice/last",
		Status:           model.SessionRunning,
		StartedAt:        time.Now().Add(-time.Minute),
	}))

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, opener.opened, "nothing past the checkpoint remains to process")
	assert.Equal(t, 0, summary.SuccessCount)

	running, err := db.LatestRunningSession()
	require.NoError(t, err)
	assert.Nil(t, running, "the resumed session must be completed")
}

func TestRunResumeFailsOpenWhenCheckpointUnmatched(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)
	opener.mirrors[repo.FullName] = &fakeMirror{
		head:       "aaa111",
		fullBundle: testBundle(model.BundleFull, "aaa111"),
	}

	require.NoError(t, db.SaveSession(&model.Session{
		SessionID:        "stale-session",
		LastRepoFullName: "ghost/unstarred",
		Status:           model.SessionRunning,
	}))

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount, "unmatched checkpoint restarts from the beginning")

	running, err := db.LatestRunningSession()
	require.NoError(t, err)
	assert.Nil(t, running, "stale session must be closed out")
}

func TestRunMirrorDestroyedOnBundleFailure(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now())
	src.star("alice", repo)

	mirror := &fakeMirror{
		head:    "aaa111",
		fullErr: errors.New("fatal: bundle creation failed"),
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedCount)
	assert.True(t, mirror.destroyed, "mirror cleanup must run on the failure path too")
}

func TestRunDeletedUpstream(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/vanished", time.Now())
	src.star("alice", repo)
	delete(src.facts, repo.FullName)

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.DeletedCount)
	assert.Empty(t, opener.opened)

	stored, err := db.GetRepositoryByFullName(repo.FullName)
	require.NoError(t, err)
	require.NotNil(t, stored, "catalog rows are never physically deleted")
	assert.True(t, stored.IsDeleted)
}

func TestRunHonorsSkipList(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	persisted := testRepo("alice/too-big", time.Now())
	configured := testRepo("alice/excluded", time.Now())
	src.star("alice", persisted, configured)

	require.NoError(t, db.AddSkipEntry(persisted.FullName, "no space left on device"))

	eng, cfg := testEngine(t, src, opener, blobs, db, "alice")
	cfg.Backup.SkipRepos = []string{configured.FullName}

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SkippedCount)
	assert.Empty(t, opener.opened)
}

func TestRunFullThenSkipThenIncremental(t *testing.T) {
	src := newFakeSource()
	opener := newFakeOpener()
	blobs := newFakeBlobs()
	db := newMemStore()

	repo := testRepo("alice/widgets", time.Now().Add(-time.Hour))
	src.star("alice", repo)

	mirror := &fakeMirror{
		head:       "aaa111",
		fullBundle: testBundle(model.BundleFull, "aaa111"),
	}
	opener.mirrors[repo.FullName] = mirror

	eng, _ := testEngine(t, src, opener, blobs, db, "alice")

	// First run: never seen, full bundle.
	summary, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)

	// Second run: nothing pushed since, stale short-circuit.
	opener.opened = nil
	summary, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Empty(t, opener.opened)

	// Third run: upstream pushed, incremental from the recorded commit.
	src.facts[repo.FullName].PushedAt = time.Now().Add(time.Hour)
	mirror.head = "bbb222"
	mirror.reachable = map[string]bool{"aaa111": true}
	mirror.incrBundle = testBundle(model.BundleIncremental, "bbb222")

	summary, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, "aaa111", mirror.incrBase)
}

func TestBackupOne(t *testing.T) {
	t.Run("uncataloged repository is fetched and backed up", func(t *testing.T) {
		src := newFakeSource()
		opener := newFakeOpener()
		blobs := newFakeBlobs()
		db := newMemStore()

		repo := testRepo("alice/adhoc", time.Now())
		src.facts[repo.FullName] = repo
		opener.mirrors[repo.FullName] = &fakeMirror{
			head:       "aaa111",
			fullBundle: testBundle(model.BundleFull, "aaa111"),
		}

		eng, _ := testEngine(t, src, opener, blobs, db, "alice")

		result, err := eng.BackupOne(context.Background(), repo.FullName)
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeSuccess, result.Outcome)
		assert.Equal(t, model.BundleFull, result.BundleType)

		stored, err := db.GetRepositoryByFullName(repo.FullName)
		require.NoError(t, err)
		assert.NotNil(t, stored)
	})

	t.Run("unknown repository", func(t *testing.T) {
		eng, _ := testEngine(t, newFakeSource(), newFakeOpener(), newFakeBlobs(), newMemStore(), "alice")

		_, err := eng.BackupOne(context.Background(), "ghost/none")
		require.Error(t, err)
	})

	t.Run("invalid name", func(t *testing.T) {
		eng, _ := testEngine(t, newFakeSource(), newFakeOpener(), newFakeBlobs(), newMemStore(), "alice")

		_, err := eng.BackupOne(context.Background(), "not-a-full-name")
		require.Error(t, err)
	})
}
