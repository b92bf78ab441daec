// Package github wraps the GitHub API as the remote metadata source:
// star listings and per-repository existence and facts.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v82/github"
	"github.com/inovacc/starkeep/internal/model"
	"golang.org/x/oauth2"
)

// RateLimitConfig contains settings for GitHub API rate limiting.
type RateLimitConfig struct {
	MaxRetries        int           // Maximum retry attempts (default: 5)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 2min)
	BackoffMultiplier float64       // Multiplier for exponential backoff (default: 2.0)
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRetries:        5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Client is a rate-limit-aware GitHub API client.
type Client struct {
	gh      *github.Client
	rateCfg RateLimitConfig
	logger  *slog.Logger
}

// NewClient creates a client authenticated with a personal access token.
func NewClient(token string, cfg RateLimitConfig, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		gh:      github.NewClient(tc),
		rateCfg: cfg,
		logger:  logger,
	}
}

// calculateBackoff computes exponential backoff with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.rateCfg.InitialBackoff) * math.Pow(c.rateCfg.BackoffMultiplier, float64(attempt))

	if backoff > float64(c.rateCfg.MaxBackoff) {
		backoff = float64(c.rateCfg.MaxBackoff)
	}

	// Add jitter (10%)
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

// isTransientError checks if an error is transient and retryable.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"503",
		"502",
		"504",
	}

	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// withRetry runs fn with rate-limit waits and exponential backoff on
// transient failures.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.rateCfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var rateLimitErr *github.RateLimitError
		if errors.As(err, &rateLimitErr) {
			resetTime := rateLimitErr.Rate.Reset.Time
			waitDuration := time.Until(resetTime) + time.Second // add 1s buffer

			c.logger.Warn("rate limited by GitHub API",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait_duration", waitDuration),
				slog.Time("reset_at", resetTime),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) {
			wait := c.calculateBackoff(attempt)
			if abuseErr.RetryAfter != nil {
				wait = *abuseErr.RetryAfter
			}

			c.logger.Warn("secondary rate limit hit",
				slog.String("op", op),
				slog.Duration("wait_duration", wait),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		if isTransientError(err) {
			wait := c.calculateBackoff(attempt)
			c.logger.Warn("transient GitHub API error, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait_duration", wait),
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return err
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// ListStarred fetches every repository starred by an account, in the
// order the API returns them.
func (c *Client) ListStarred(ctx context.Context, account string) ([]*model.Repository, error) {
	opt := &github.ActivityListStarredOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var repos []*model.Repository

	for {
		var (
			page []*github.StarredRepository
			resp *github.Response
		)

		err := c.withRetry(ctx, "list starred", func() error {
			var err error
			page, resp, err = c.gh.Activity.ListStarred(ctx, account, opt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing stars for %s: %w", account, err)
		}

		for _, starred := range page {
			if starred.Repository == nil {
				continue
			}
			repos = append(repos, model.RepositoryFromGitHub(starred.Repository))
		}

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	c.logger.Info("fetched star list",
		slog.String("account", account),
		slog.Int("count", len(repos)),
	)

	return repos, nil
}

// Fetch returns the current facts for a repository, or nil when it no
// longer exists. A 404 is a definitive "gone", not an error.
func (c *Client) Fetch(ctx context.Context, fullName string) (*model.Repository, error) {
	owner, name, err := model.SplitFullName(fullName)
	if err != nil {
		return nil, err
	}

	var ghRepo *github.Repository

	err = c.withRetry(ctx, "get repository", func() error {
		var (
			resp *github.Response
			err  error
		)

		ghRepo, resp, err = c.gh.Repositories.Get(ctx, owner, name)
		if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
			ghRepo = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", fullName, err)
	}

	if ghRepo == nil {
		return nil, nil
	}

	return model.RepositoryFromGitHub(ghRepo), nil
}

// TestConnection verifies the token by fetching the authenticated user.
func (c *Client) TestConnection(ctx context.Context) error {
	var user *github.User

	err := c.withRetry(ctx, "get user", func() error {
		var err error
		user, _, err = c.gh.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		return fmt.Errorf("github connection test: %w", err)
	}

	c.logger.Info("github connection ok", slog.String("login", user.GetLogin()))

	return nil
}
