package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/inovacc/starkeep/internal/application"
	"github.com/inovacc/starkeep/internal/config"
	"github.com/inovacc/starkeep/internal/engine"
	"github.com/inovacc/starkeep/internal/git"
	"github.com/inovacc/starkeep/internal/github"
	"github.com/inovacc/starkeep/internal/notify"
	"github.com/inovacc/starkeep/internal/store"
	"github.com/inovacc/starkeep/internal/webdav"
)

// app bundles the wired collaborators for one command invocation.
type app struct {
	cfg      *config.Config
	db       store.Store
	github   *github.Client
	webdav   *webdav.Client
	notifier *notify.Notifier
	engine   *engine.Engine
	logger   *slog.Logger
}

const defaultConfigFile = "config.yaml"

// resolveConfigPath falls back to the per-user application directory
// when the default config file is absent from the working directory. An
// explicit --config path is used as given.
func resolveConfigPath(flagValue string) string {
	if flagValue != defaultConfigFile {
		return flagValue
	}

	if _, err := os.Stat(flagValue); err == nil {
		return flagValue
	}

	dir, err := application.GetApplicationDirectory()
	if err != nil {
		return flagValue
	}

	fallback := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}

	return flagValue
}

// newApp loads configuration and wires every collaborator. Callers must
// Close it.
func newApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath(cfgFile))
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger := slog.Default()

	db, err := store.Open(cfg.Backup.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	gitEngine, err := git.NewEngine(cfg.Backup.TempDir, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	gh := github.NewClient(cfg.GitHub.Token, github.DefaultRateLimitConfig(), logger)
	dav := webdav.NewClient(cfg.WebDAV.URL, cfg.WebDAV.Username, cfg.WebDAV.Password, cfg.WebDAV.BasePath, logger)

	var senders []notify.Sender
	if cfg.Telegram.Enabled {
		senders = append(senders, notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	notifier := notify.NewNotifier(senders...)

	eng := engine.New(cfg, gh, engine.GitOpener{Engine: gitEngine}, dav, db, notifier, logger)

	return &app{
		cfg:      cfg,
		db:       db,
		github:   gh,
		webdav:   dav,
		notifier: notifier,
		engine:   eng,
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing catalog", slog.String("error", err.Error()))
	}
}
