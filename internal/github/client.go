package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v61/github"
	"golang.org/x/oauth2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// Client fetches PR context and posts verdict comments, authenticating each
// call with an installation-scoped token from AppAuth.
type Client struct {
	auth    *AppAuth
	apiBase string
	logger  log.Logger
}

// New creates a platform client. apiBase may be empty for public GitHub.
func New(auth *AppAuth, apiBase string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{auth: auth, apiBase: apiBase, logger: logger}
}

// restFor builds a go-github client holding the installation's token.
func (c *Client) restFor(ctx context.Context, installationID int64) (*gh.Client, error) {
	token, err := c.auth.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := gh.NewClient(oauth2.NewClient(ctx, ts))

	if c.apiBase != DefaultAPIBase {
		base, err := url.Parse(strings.TrimSuffix(c.apiBase, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse api base: %w", err)
		}
		client.BaseURL = base
	}
	return client, nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}

// PRContext fetches enrichment signals for a PR. Every field is best-effort:
// partial API failures degrade to the unknown defaults rather than erroring,
// and only a total failure (no PR at all) returns an error.
func (c *Client) PRContext(ctx context.Context, installationID int64, repoFullName string, number int) (*pr.Context, error) {
	if installationID == 0 {
		return nil, fmt.Errorf("no installation id")
	}

	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	client, err := c.restFor(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}

	pull, _, err := client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}

	out := pr.DefaultContext()

	// Unknown mergeability (GitHub still computing) counts as "no conflict".
	if pull.Mergeable != nil && !*pull.Mergeable {
		out.HasConflicts = true
	}
	if pull.CreatedAt != nil {
		out.DaysSinceCreated = int(time.Since(pull.CreatedAt.Time).Hours() / 24)
	}

	if reviews, _, err := client.PullRequests.ListReviews(ctx, owner, repo, number, &gh.ListOptions{PerPage: 100}); err == nil {
		out.ReviewCount = len(reviews)
	} else {
		c.logger.Warn(ctx, "list reviews failed", "repo", repoFullName, "pr_number", number, "error", err)
	}

	if pull.Head != nil && pull.Head.SHA != nil {
		if status, _, err := client.Repositories.GetCombinedStatus(ctx, owner, repo, *pull.Head.SHA, &gh.ListOptions{}); err == nil && status.State != nil {
			out.CIStatus = *status.State
		} else if err != nil {
			c.logger.Warn(ctx, "combined status failed", "repo", repoFullName, "pr_number", number, "error", err)
		}
	}

	return &out, nil
}

// Publish formats the verdict and posts it as a PR comment. Failure is
// logged and reported as false; the caller's task has already persisted the
// verdict and must not fail because of this.
func (c *Client) Publish(ctx context.Context, installationID int64, repoFullName string, number int, classification *pr.Classification) bool {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		c.logger.Error(ctx, err, "cannot post comment")
		return false
	}

	client, err := c.restFor(ctx, installationID)
	if err != nil {
		c.logger.Error(ctx, err, "github auth failed, comment not posted",
			"repo", repoFullName, "pr_number", number)
		return false
	}

	body := FormatComment(classification)
	if _, _, err := client.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: &body}); err != nil {
		c.logger.Error(ctx, err, "create comment failed",
			"repo", repoFullName, "pr_number", number)
		return false
	}

	c.logger.Info(ctx, "verdict comment posted", "repo", repoFullName, "pr_number", number)
	return true
}
