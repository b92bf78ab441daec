// Package webdav wraps the remote blob store. Artifacts live under
// {base}/{owner}/{name}/, with reserved {base}/_database/ and
// {base}/_index/ areas for engine-external snapshots.
package webdav

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

const (
	// DatabaseDir is the reserved area for catalog snapshots.
	DatabaseDir = "_database"

	// IndexDir is the reserved area for index snapshots.
	IndexDir = "_index"
)

// Client is a thin transport wrapper over a WebDAV share.
type Client struct {
	dav      *gowebdav.Client
	basePath string
	logger   *slog.Logger
}

// NewClient creates a client rooted at basePath on the given share.
func NewClient(url, username, password, basePath string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	dav := gowebdav.NewClient(url, username, password)
	dav.SetTimeout(2 * time.Minute)

	return &Client{
		dav:      dav,
		basePath: "/" + strings.Trim(basePath, "/"),
		logger:   logger,
	}
}

// TestConnection verifies the share is reachable and the base path can
// be created.
func (c *Client) TestConnection() error {
	if err := c.dav.Connect(); err != nil {
		return fmt.Errorf("webdav connection test: %w", err)
	}

	if err := c.dav.MkdirAll(c.basePath, 0o755); err != nil {
		return fmt.Errorf("creating base path %s: %w", c.basePath, err)
	}

	return nil
}

// RepoDir returns the remote directory for a repository's artifacts.
func (c *Client) RepoDir(fullName string) string {
	return path.Join(c.basePath, fullName)
}

// Put uploads a local file into a repository's directory and returns the
// remote path.
func (c *Client) Put(localPath, fullName, filename string) (string, error) {
	dir := c.RepoDir(fullName)
	if err := c.dav.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating remote directory %s: %w", dir, err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer file.Close()

	remotePath := path.Join(dir, filename)

	if err := c.dav.WriteStream(remotePath, file, 0o644); err != nil {
		return "", fmt.Errorf("uploading %s: %w", remotePath, err)
	}

	c.logger.Info("uploaded artifact",
		slog.String("repo", fullName),
		slog.String("remote_path", remotePath),
	)

	return remotePath, nil
}

// Get downloads a remote file to a local path.
func (c *Client) Get(remotePath, localPath string) error {
	data, err := c.dav.Read(remotePath)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}

	return nil
}

// List returns the file names in a remote directory. A missing directory
// is an empty listing, not an error.
func (c *Client) List(dir string) ([]string, error) {
	infos, err := c.dav.ReadDir(dir)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	names := make([]string, 0, len(infos))

	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}

	return names, nil
}

// Move renames a remote file.
func (c *Client) Move(src, dst string) error {
	if err := c.dav.Rename(src, dst, true); err != nil {
		return fmt.Errorf("moving %s to %s: %w", src, dst, err)
	}

	return nil
}

// BundleFiles lists the artifact files already stored for a repository.
func (c *Client) BundleFiles(fullName string) ([]string, error) {
	names, err := c.List(c.RepoDir(fullName))
	if err != nil {
		return nil, err
	}

	var bundles []string

	for _, name := range names {
		if strings.HasSuffix(name, ".bundle") {
			bundles = append(bundles, name)
		}
	}

	return bundles, nil
}

// ArchiveBundles moves every existing artifact for a repository into a
// dated subdirectory. Used when upstream history diverged and a fresh
// full backup supersedes the old chain.
func (c *Client) ArchiveBundles(fullName string, when time.Time) error {
	bundles, err := c.BundleFiles(fullName)
	if err != nil {
		return err
	}

	if len(bundles) == 0 {
		return nil
	}

	dir := c.RepoDir(fullName)
	archiveDir := path.Join(dir, "archived_"+when.Format("20060102"))

	if err := c.dav.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory %s: %w", archiveDir, err)
	}

	for _, name := range bundles {
		if err := c.Move(path.Join(dir, name), path.Join(archiveDir, name)); err != nil {
			return err
		}
	}

	c.logger.Info("archived diverged artifacts",
		slog.String("repo", fullName),
		slog.String("archive_dir", archiveDir),
		slog.Int("count", len(bundles)),
	)

	return nil
}

// PutMetadata writes a JSON descriptor alongside a repository's artifacts.
func (c *Client) PutMetadata(fullName, filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	dir := c.RepoDir(fullName)
	if err := c.dav.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating remote directory %s: %w", dir, err)
	}

	remotePath := path.Join(dir, filename)

	if err := c.dav.Write(remotePath, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata %s: %w", remotePath, err)
	}

	return nil
}

// UploadDatabase copies the local catalog into the reserved _database/
// area so the catalog itself survives loss of the host.
func (c *Client) UploadDatabase(localPath string) error {
	dir := path.Join(c.basePath, DatabaseDir)
	if err := c.dav.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening database %s: %w", localPath, err)
	}
	defer file.Close()

	name := fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), path.Base(localPath))
	remotePath := path.Join(dir, name)

	if err := c.dav.WriteStream(remotePath, file, 0o644); err != nil {
		return fmt.Errorf("uploading database snapshot: %w", err)
	}

	c.logger.Info("database snapshot uploaded", slog.String("remote_path", remotePath))

	return nil
}
