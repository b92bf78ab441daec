//go:build bolt

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inovacc/starkeep/internal/model"
	"go.etcd.io/bbolt"
)

const (
	boltBucketRepos    = "repos"    // key: full_name -> Repository JSON
	boltBucketRepoIDs  = "repo_ids" // key: id (be64) -> full_name
	boltBucketBackups  = "backups"  // key: repo_id (be64) + seq (be64) -> BackupRecord JSON
	boltBucketStars    = "stars"    // key: repo_id (be64) + account -> StarSource JSON
	boltBucketSkips    = "skips"    // key: full_name -> SkipEntry JSON
	boltBucketSessions = "sessions" // key: session_id -> Session JSON
)

var boltBuckets = []string{
	boltBucketRepos,
	boltBucketRepoIDs,
	boltBucketBackups,
	boltBucketStars,
	boltBucketSkips,
	boltBucketSessions,
}

// Bolt implements the Store interface on bbolt.
type Bolt struct {
	storage *bbolt.DB
}

func openStore(path string) (Store, error) {
	return NewBolt(path)
}

// NewBolt creates a Bolt store at the specified path.
func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	instance, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := instance.Update(func(tx *bbolt.Tx) error {
		for _, name := range boltBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = instance.Close()

		return nil, err
	}

	return &Bolt{storage: instance}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.storage.Close()
}

// Ping verifies the database file is usable.
func (b *Bolt) Ping() error {
	return b.storage.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(boltBucketRepos)) == nil {
			return fmt.Errorf("bucket %s missing", boltBucketRepos)
		}
		return nil
	})
}

func be64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func (b *Bolt) UpsertRepository(repo *model.Repository) (int64, error) {
	err := b.storage.Update(func(tx *bbolt.Tx) error {
		repos := tx.Bucket([]byte(boltBucketRepos))
		ids := tx.Bucket([]byte(boltBucketRepoIDs))

		now := time.Now().UTC()

		if existing := repos.Get([]byte(repo.FullName)); existing != nil {
			var prev model.Repository
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			repo.ID = prev.ID
			repo.CreatedAt = prev.CreatedAt
		} else {
			seq, err := repos.NextSequence()
			if err != nil {
				return err
			}
			repo.ID = int64(seq)
			repo.CreatedAt = now

			if err := ids.Put(be64(repo.ID), []byte(repo.FullName)); err != nil {
				return err
			}
		}

		repo.UpdatedAt = now

		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}

		return repos.Put([]byte(repo.FullName), data)
	})
	if err != nil {
		return 0, fmt.Errorf("upserting repository %s: %w", repo.FullName, err)
	}

	return repo.ID, nil
}

func (b *Bolt) GetRepositoryByFullName(fullName string) (*model.Repository, error) {
	var repo *model.Repository

	err := b.storage.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(boltBucketRepos)).Get([]byte(fullName))
		if data == nil {
			return nil
		}

		repo = &model.Repository{}

		return json.Unmarshal(data, repo)
	})

	return repo, err
}

func (b *Bolt) MarkRepositoryDeleted(fullName string) error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		repos := tx.Bucket([]byte(boltBucketRepos))

		data := repos.Get([]byte(fullName))
		if data == nil {
			return nil
		}

		var repo model.Repository
		if err := json.Unmarshal(data, &repo); err != nil {
			return err
		}

		repo.IsDeleted = true
		repo.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&repo)
		if err != nil {
			return err
		}

		return repos.Put([]byte(fullName), updated)
	})
}

func (b *Bolt) ListRepositories() ([]*model.Repository, error) {
	var repos []*model.Repository

	err := b.storage.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketRepos)).ForEach(func(_, v []byte) error {
			var repo model.Repository
			if err := json.Unmarshal(v, &repo); err != nil {
				return err
			}
			repos = append(repos, &repo)
			return nil
		})
	})

	return repos, err
}

func (b *Bolt) AddStarSource(repoID int64, account string) error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		stars := tx.Bucket([]byte(boltBucketStars))

		key := append(be64(repoID), []byte(account)...)
		if stars.Get(key) != nil {
			return nil // unique per pair
		}

		data, err := json.Marshal(&model.StarSource{
			RepoID:    repoID,
			Account:   account,
			StarredAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		return stars.Put(key, data)
	})
}

func (b *Bolt) ListStarSources(repoID int64) ([]string, error) {
	var accounts []string

	err := b.storage.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketStars)).Cursor()
		prefix := be64(repoID)

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			accounts = append(accounts, string(k[len(prefix):]))
		}

		return nil
	})

	return accounts, err
}

func (b *Bolt) SaveBackupRecord(rec *model.BackupRecord) (int64, error) {
	if rec.BackupTime.IsZero() {
		rec.BackupTime = time.Now().UTC()
	}

	err := b.storage.Update(func(tx *bbolt.Tx) error {
		backups := tx.Bucket([]byte(boltBucketBackups))

		seq, err := backups.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = int64(seq)

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		key := append(be64(rec.RepoID), be64(rec.ID)...)

		return backups.Put(key, data)
	})
	if err != nil {
		return 0, fmt.Errorf("saving backup record: %w", err)
	}

	return rec.ID, nil
}

func (b *Bolt) LatestBackup(repoID int64) (*model.BackupRecord, error) {
	records, err := b.BackupHistory(repoID, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}

	return records[0], nil
}

func (b *Bolt) BackupHistory(repoID int64, limit int) ([]*model.BackupRecord, error) {
	var records []*model.BackupRecord

	err := b.storage.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketBackups)).Cursor()
		prefix := be64(repoID)

		// Walk the prefix range backwards: newest record first.
		var last []byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			last = k
		}

		if last == nil {
			return nil
		}

		for k, v := c.Seek(last); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var rec model.BackupRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			records = append(records, &rec)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}

		return nil
	})

	return records, err
}

func (b *Bolt) AddSkipEntry(fullName, reason string) error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		skips := tx.Bucket([]byte(boltBucketSkips))

		if skips.Get([]byte(fullName)) != nil {
			return nil // first reason wins
		}

		data, err := json.Marshal(&model.SkipEntry{
			FullName:  fullName,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		return skips.Put([]byte(fullName), data)
	})
}

func (b *Bolt) ListSkipEntries() ([]*model.SkipEntry, error) {
	var entries []*model.SkipEntry

	err := b.storage.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketSkips)).ForEach(func(_, v []byte) error {
			var entry model.SkipEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})

	return entries, err
}

func (b *Bolt) RemoveSkipEntry(fullName string) error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketSkips)).Delete([]byte(fullName))
	})
}

func (b *Bolt) ClearSkipEntries() error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(boltBucketSkips)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(boltBucketSkips))
		return err
	})
}

func (b *Bolt) SaveSession(session *model.Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	session.UpdatedAt = time.Now().UTC()

	return b.storage.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}

		return tx.Bucket([]byte(boltBucketSessions)).Put([]byte(session.SessionID), data)
	})
}

func (b *Bolt) LatestRunningSession() (*model.Session, error) {
	var latest *model.Session

	err := b.storage.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(boltBucketSessions)).ForEach(func(_, v []byte) error {
			var session model.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}

			if session.Status != model.SessionRunning {
				return nil
			}

			if latest == nil || session.UpdatedAt.After(latest.UpdatedAt) {
				latest = &session
			}

			return nil
		})
	})

	return latest, err
}

func (b *Bolt) CompleteSession(sessionID string) error {
	return b.storage.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(boltBucketSessions))

		data := sessions.Get([]byte(sessionID))
		if data == nil {
			return nil
		}

		var session model.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}

		session.Status = model.SessionCompleted
		session.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&session)
		if err != nil {
			return err
		}

		return sessions.Put([]byte(sessionID), updated)
	})
}
