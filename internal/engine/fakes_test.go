package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inovacc/starkeep/internal/git"
	"github.com/inovacc/starkeep/internal/model"
)

// fakeSource is an in-memory MetadataSource.
type fakeSource struct {
	stars    map[string][]*model.Repository
	facts    map[string]*model.Repository
	listErr  map[string]error
	fetchErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stars:    make(map[string][]*model.Repository),
		facts:    make(map[string]*model.Repository),
		listErr:  make(map[string]error),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeSource) star(account string, repos ...*model.Repository) {
	for _, repo := range repos {
		f.stars[account] = append(f.stars[account], cloneRepo(repo))
		f.facts[repo.FullName] = repo
	}
}

func (f *fakeSource) ListStarred(_ context.Context, account string) ([]*model.Repository, error) {
	if err := f.listErr[account]; err != nil {
		return nil, err
	}

	return f.stars[account], nil
}

func (f *fakeSource) Fetch(_ context.Context, fullName string) (*model.Repository, error) {
	if err := f.fetchErr[fullName]; err != nil {
		return nil, err
	}

	repo, ok := f.facts[fullName]
	if !ok {
		return nil, nil
	}

	return cloneRepo(repo), nil
}

func cloneRepo(r *model.Repository) *model.Repository {
	c := *r
	return &c
}

// fakeMirror scripts one repository's mirror behavior.
type fakeMirror struct {
	head       string
	reachable  map[string]bool
	fullBundle *git.Bundle
	fullErr    error
	incrBundle *git.Bundle
	incrErr    error

	destroyed bool
	incrBase  string
}

func (m *fakeMirror) Head(context.Context) (string, error) { return m.head, nil }

func (m *fakeMirror) CommitReachable(_ context.Context, commit string) bool {
	return m.reachable[commit]
}

func (m *fakeMirror) CreateFullBundle(context.Context) (*git.Bundle, error) {
	return m.fullBundle, m.fullErr
}

func (m *fakeMirror) CreateIncrementalBundle(_ context.Context, base string) (*git.Bundle, error) {
	m.incrBase = base
	return m.incrBundle, m.incrErr
}

func (m *fakeMirror) Destroy() error {
	m.destroyed = true
	return nil
}

// fakeOpener hands out scripted mirrors and records activity.
type fakeOpener struct {
	mirrors   map[string]*fakeMirror
	openErr   map[string]error
	unchanged map[string]bool
	opened    []string
	removed   []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		mirrors:   make(map[string]*fakeMirror),
		openErr:   make(map[string]error),
		unchanged: make(map[string]bool),
	}
}

func (o *fakeOpener) OpenMirror(_ context.Context, fullName, _ string) (Mirror, bool, error) {
	o.opened = append(o.opened, fullName)

	if err := o.openErr[fullName]; err != nil {
		return nil, false, err
	}

	mirror, ok := o.mirrors[fullName]
	if !ok {
		return nil, false, fmt.Errorf("no scripted mirror for %s", fullName)
	}

	return mirror, !o.unchanged[fullName], nil
}

func (o *fakeOpener) RemoveBundle(path string) error {
	o.removed = append(o.removed, path)
	return nil
}

// fakeBlobs is an in-memory BlobStore that records its calls in order.
type fakeBlobs struct {
	putErr     map[string]error
	archiveErr map[string]error
	puts       []string
	archived   []string
	metadata   map[string]any
	dbUploads  int

	// calls records put/archive ordering per repository.
	calls []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		putErr:     make(map[string]error),
		archiveErr: make(map[string]error),
		metadata:   make(map[string]any),
	}
}

func (b *fakeBlobs) Put(_, fullName, filename string) (string, error) {
	if err := b.putErr[fullName]; err != nil {
		return "", err
	}

	remote := "/backups/" + fullName + "/" + filename
	b.puts = append(b.puts, remote)
	b.calls = append(b.calls, "put:"+fullName)

	return remote, nil
}

func (b *fakeBlobs) ArchiveBundles(fullName string, _ time.Time) error {
	b.calls = append(b.calls, "archive:"+fullName)

	if err := b.archiveErr[fullName]; err != nil {
		return err
	}

	b.archived = append(b.archived, fullName)

	return nil
}

func (b *fakeBlobs) PutMetadata(fullName, filename string, v any) error {
	b.metadata[fullName+"/"+filename] = v
	return nil
}

func (b *fakeBlobs) UploadDatabase(string) error {
	b.dbUploads++
	return nil
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	repos    map[string]*model.Repository
	nextID   int64
	backups  map[int64][]*model.BackupRecord
	stars    map[int64]map[string]bool
	skips    map[string]*model.SkipEntry
	sessions map[string]*model.Session
}

func newMemStore() *memStore {
	return &memStore{
		repos:    make(map[string]*model.Repository),
		backups:  make(map[int64][]*model.BackupRecord),
		stars:    make(map[int64]map[string]bool),
		skips:    make(map[string]*model.SkipEntry),
		sessions: make(map[string]*model.Session),
	}
}

func (s *memStore) Ping() error  { return nil }
func (s *memStore) Close() error { return nil }

func (s *memStore) UpsertRepository(repo *model.Repository) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.repos[repo.FullName]; ok {
		repo.ID = existing.ID
	} else {
		s.nextID++
		repo.ID = s.nextID
	}

	s.repos[repo.FullName] = cloneRepo(repo)

	return repo.ID, nil
}

func (s *memStore) GetRepositoryByFullName(fullName string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[fullName]
	if !ok {
		return nil, nil
	}

	return cloneRepo(repo), nil
}

func (s *memStore) MarkRepositoryDeleted(fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if repo, ok := s.repos[fullName]; ok {
		repo.IsDeleted = true
	}

	return nil
}

func (s *memStore) ListRepositories() ([]*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var repos []*model.Repository
	for _, repo := range s.repos {
		repos = append(repos, cloneRepo(repo))
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].ID < repos[j].ID })

	return repos, nil
}

func (s *memStore) AddStarSource(repoID int64, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stars[repoID] == nil {
		s.stars[repoID] = make(map[string]bool)
	}
	s.stars[repoID][account] = true

	return nil
}

func (s *memStore) ListStarSources(repoID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []string
	for account := range s.stars[repoID] {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	return accounts, nil
}

func (s *memStore) SaveBackupRecord(rec *model.BackupRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	s.backups[rec.RepoID] = append(s.backups[rec.RepoID], rec)

	return rec.ID, nil
}

func (s *memStore) LatestBackup(repoID int64) (*model.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.backups[repoID]
	if len(records) == 0 {
		return nil, nil
	}

	return records[len(records)-1], nil
}

func (s *memStore) BackupHistory(repoID int64, limit int) ([]*model.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.backups[repoID]

	var out []*model.BackupRecord
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *memStore) AddSkipEntry(fullName, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.skips[fullName]; ok {
		return nil
	}

	s.skips[fullName] = &model.SkipEntry{FullName: fullName, Reason: reason, CreatedAt: time.Now()}

	return nil
}

func (s *memStore) ListSkipEntries() ([]*model.SkipEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*model.SkipEntry
	for _, entry := range s.skips {
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *memStore) RemoveSkipEntry(fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.skips, fullName)

	return nil
}

func (s *memStore) ClearSkipEntries() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.skips = make(map[string]*model.SkipEntry)

	return nil
}

func (s *memStore) SaveSession(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	session.UpdatedAt = time.Now()

	copied := *session
	s.sessions[session.SessionID] = &copied

	return nil
}

func (s *memStore) LatestRunningSession() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Session
	for _, session := range s.sessions {
		if session.Status != model.SessionRunning {
			continue
		}
		if latest == nil || session.UpdatedAt.After(latest.UpdatedAt) {
			latest = session
		}
	}

	if latest == nil {
		return nil, nil
	}

	copied := *latest

	return &copied, nil
}

func (s *memStore) CompleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		session.Status = model.SessionCompleted
	}

	return nil
}

var errNoSpace = errors.New("fatal: write error: No space left on device")
