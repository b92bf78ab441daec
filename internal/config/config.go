// Package config loads and validates the starkeep YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inovacc/starkeep/internal/application"
	"gopkg.in/yaml.v3"
)

// GitHub configures the remote metadata source.
type GitHub struct {
	// Token is a personal access token. Falls back to GITHUB_TOKEN or
	// GH_TOKEN when empty.
	Token string `yaml:"token"`

	// Users are the accounts whose starred repositories are backed up.
	Users []string `yaml:"users"`

	// APITimeout bounds individual API calls.
	APITimeout time.Duration `yaml:"api_timeout"`
}

// WebDAV configures the remote blob store.
type WebDAV struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BasePath is the root directory for all backups.
	BasePath string `yaml:"base_path"`
}

// Telegram configures the notification channel.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	Enabled  bool   `yaml:"enabled"`
}

// Backup configures the orchestration engine.
type Backup struct {
	// TempDir holds mirrors and bundles while a repository is processed.
	TempDir string `yaml:"temp_dir"`

	// DBPath is the sqlite catalog location.
	DBPath string `yaml:"db_path"`

	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`

	// Cooldown is the pause after each successful backup.
	Cooldown time.Duration `yaml:"cooldown"`

	// SkipRepos are repositories excluded from every run, "owner/name".
	SkipRepos []string `yaml:"skip_repos"`

	// ResumeFromLast resumes an interrupted run at its checkpoint.
	ResumeFromLast bool `yaml:"resume_from_last"`

	// CleanupTemp removes local bundle files after upload.
	CleanupTemp bool `yaml:"cleanup_temp"`
}

// Config is the application configuration.
type Config struct {
	GitHub   GitHub   `yaml:"github"`
	WebDAV   WebDAV   `yaml:"webdav"`
	Telegram Telegram `yaml:"telegram"`
	Backup   Backup   `yaml:"backup"`
}

// Default returns a configuration with sensible defaults filled in.
func Default() Config {
	return Config{
		GitHub: GitHub{
			APITimeout: 30 * time.Second,
		},
		Backup: Backup{
			TempDir:        "./temp",
			DBPath:         "./data/starkeep.db",
			Schedule:       "0 6 * * *",
			Cooldown:       time.Second,
			ResumeFromLast: true,
			CleanupTemp:    true,
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.resolveToken()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveToken falls back to the environment when no token is configured.
// Same resolution order the gh CLI uses.
func (c *Config) resolveToken() {
	if c.GitHub.Token != "" {
		return
	}

	for _, key := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			c.GitHub.Token = v
			return
		}
	}
}

// Validate checks the configuration for missing or placeholder values.
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.Token == "" || strings.HasPrefix(c.GitHub.Token, "ghp_xxx") {
		errs = append(errs, errors.New("github.token is required"))
	}

	if len(c.GitHub.Users) == 0 {
		errs = append(errs, errors.New("github.users must list at least one account"))
	}

	if c.WebDAV.URL == "" {
		errs = append(errs, errors.New("webdav.url is required"))
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram.bot_token and telegram.chat_id are required when telegram is enabled"))
	}

	c.WebDAV.URL = strings.TrimRight(c.WebDAV.URL, "/")

	if c.WebDAV.BasePath == "" {
		c.WebDAV.BasePath = "/" + application.AppName
	}
	c.WebDAV.BasePath = "/" + strings.Trim(c.WebDAV.BasePath, "/")

	return errors.Join(errs...)
}

// EnsureDirectories creates the directories the engine writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Backup.TempDir,
		filepath.Dir(c.Backup.DBPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}
