// Package webhook implements the inbound GitHub surface: signature
// verification, event routing, bot-command parsing, and the HTTP handlers
// that turn deliveries into dispatch tasks.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// ErrMalformedPayload marks a processed event whose payload is missing
// required fields. It propagates to a 400 response, never a silent skip.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// RouteKind says what the router decided to do with a delivery.
type RouteKind string

const (
	// KindPullRequestUpdate is a pull_request opened/synchronize event.
	KindPullRequestUpdate RouteKind = "pull_request_update"

	// KindCommentCommand is an issue_comment carrying a recognized bot command.
	KindCommentCommand RouteKind = "comment_command"

	// KindIgnored is anything the pipeline does not process.
	KindIgnored RouteKind = "ignored"
)

// Route is the outcome of classifying one delivery.
type Route struct {
	Kind    RouteKind
	Action  string
	Reason  string // set when Kind == KindIgnored
	Command *Command
	Signal  *pr.Signal
}

// prPayload is the typed shape of a pull_request event. Parsing into this at
// the boundary keeps optional-chaining out of the business logic.
type prPayload struct {
	Action      string `json:"action"`
	PullRequest *struct {
		ID           int64   `json:"id"`
		Number       int     `json:"number"`
		Title        string  `json:"title"`
		Body         *string `json:"body"`
		State        string  `json:"state"`
		Draft        bool    `json:"draft"`
		Additions    int     `json:"additions"`
		Deletions    int     `json:"deletions"`
		ChangedFiles int     `json:"changed_files"`
		Commits      int     `json:"commits"`
		User         *struct {
			Login string `json:"login"`
		} `json:"user"`
		Head *struct {
			Repo *struct {
				FullName string `json:"full_name"`
			} `json:"repo"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// commentPayload is the typed shape of an issue_comment event.
type commentPayload struct {
	Action  string `json:"action"`
	Comment *struct {
		Body string `json:"body"`
	} `json:"comment"`
	Issue *struct {
		ID     int64   `json:"id"`
		Number int     `json:"number"`
		Title  string  `json:"title"`
		Body   *string `json:"body"`
		State  string  `json:"state"`
		User   *struct {
			Login string `json:"login"`
		} `json:"user"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// RouteEvent classifies a delivery by event type and action and extracts the
// normalized signal for processed events.
func RouteEvent(eventType string, body []byte) (*Route, error) {
	switch eventType {
	case "pull_request":
		return routePullRequest(body)
	case "issue_comment":
		return routeIssueComment(body)
	default:
		return &Route{Kind: KindIgnored, Reason: eventType}, nil
	}
}

func routePullRequest(body []byte) (*Route, error) {
	var p prPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Action != "opened" && p.Action != "synchronize" {
		return &Route{Kind: KindIgnored, Action: p.Action, Reason: "action not processed"}, nil
	}

	prd := p.PullRequest
	if prd == nil || prd.User == nil || prd.Head == nil || prd.Head.Repo == nil || prd.Head.Repo.FullName == "" {
		return nil, fmt.Errorf("%w: missing pull_request fields", ErrMalformedPayload)
	}

	signal := &pr.Signal{
		GitHubPRID:   prd.ID,
		RepoFullName: prd.Head.Repo.FullName,
		Number:       prd.Number,
		Title:        prd.Title,
		State:        prd.State,
		Draft:        prd.Draft,
		Additions:    prd.Additions,
		Deletions:    prd.Deletions,
		ChangedFiles: prd.ChangedFiles,
		Commits:      prd.Commits,
		Author:       prd.User.Login,
	}
	if prd.Body != nil {
		signal.Description = *prd.Body
	}
	if p.Installation != nil {
		signal.InstallationID = p.Installation.ID
	}

	return &Route{Kind: KindPullRequestUpdate, Action: p.Action, Signal: signal}, nil
}

func routeIssueComment(body []byte) (*Route, error) {
	var p commentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Action != "created" {
		return &Route{Kind: KindIgnored, Action: p.Action, Reason: "action not processed"}, nil
	}

	if p.Comment == nil || p.Issue == nil {
		return nil, fmt.Errorf("%w: missing comment/issue fields", ErrMalformedPayload)
	}

	cmd := ParseCommand(p.Comment.Body)
	if cmd == nil {
		// A mention with no recognized subcommand is reported separately
		// from a comment not addressed to the bot at all.
		reason := "not_a_bot_command"
		if MentionsBot(p.Comment.Body) {
			reason = "invalid_command"
		}
		return &Route{Kind: KindIgnored, Action: p.Action, Reason: reason}, nil
	}

	// Commands only make sense on PRs, not plain issues.
	if p.Issue.PullRequest == nil {
		return &Route{Kind: KindIgnored, Action: p.Action, Reason: "not_a_pr"}, nil
	}

	if p.Repository == nil || p.Repository.FullName == "" || p.Issue.User == nil {
		return nil, fmt.Errorf("%w: missing repository/user fields", ErrMalformedPayload)
	}

	// Issue-level fields only; diff sizes default to zero, which marks the
	// resulting classification as degraded-context.
	signal := &pr.Signal{
		GitHubPRID:   p.Issue.ID,
		RepoFullName: p.Repository.FullName,
		Number:       p.Issue.Number,
		Title:        p.Issue.Title,
		State:        p.Issue.State,
		Author:       p.Issue.User.Login,
	}
	if p.Issue.Body != nil {
		signal.Description = *p.Issue.Body
	}
	if p.Installation != nil {
		signal.InstallationID = p.Installation.ID
	}

	return &Route{Kind: KindCommentCommand, Action: p.Action, Command: cmd, Signal: signal}, nil
}
