package webhook

import (
	"errors"
	"fmt"
	"testing"
)

func prEventBody(action string) []byte {
	return fmt.Appendf(nil, `{
		"action": %q,
		"pull_request": {
			"id": 9001,
			"number": 42,
			"title": "Add retry budget",
			"body": "Adds a retry budget to the fetcher.",
			"state": "open",
			"draft": false,
			"additions": 120,
			"deletions": 30,
			"changed_files": 4,
			"commits": 2,
			"user": {"login": "octocat"},
			"head": {"repo": {"full_name": "acme/widgets"}}
		},
		"repository": {"full_name": "acme/widgets"},
		"installation": {"id": 777}
	}`, action)
}

func commentEventBody(action, commentBody string, onPR bool) []byte {
	prField := ""
	if onPR {
		prField = `"pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/42"},`
	}
	return fmt.Appendf(nil, `{
		"action": %q,
		"comment": {"body": %q},
		"issue": {
			"id": 9001,
			"number": 42,
			"title": "Add retry budget",
			"body": "desc",
			"state": "open",
			%s
			"user": {"login": "octocat"}
		},
		"repository": {"full_name": "acme/widgets"},
		"installation": {"id": 777}
	}`, action, commentBody, prField)
}

func TestRouteEvent_PullRequestOpened(t *testing.T) {
	t.Parallel()

	route, err := RouteEvent("pull_request", prEventBody("opened"))
	if err != nil {
		t.Fatalf("RouteEvent: %v", err)
	}
	if route.Kind != KindPullRequestUpdate {
		t.Fatalf("Kind = %q, want %q", route.Kind, KindPullRequestUpdate)
	}
	sig := route.Signal
	if sig == nil {
		t.Fatal("expected a signal")
	}
	if sig.GitHubPRID != 9001 {
		t.Errorf("GitHubPRID = %d, want 9001", sig.GitHubPRID)
	}
	if sig.RepoFullName != "acme/widgets" {
		t.Errorf("RepoFullName = %q", sig.RepoFullName)
	}
	if sig.Number != 42 || sig.Author != "octocat" || sig.Additions != 120 {
		t.Errorf("signal fields not extracted: %+v", sig)
	}
	if sig.InstallationID != 777 {
		t.Errorf("InstallationID = %d, want 777", sig.InstallationID)
	}
}

func TestRouteEvent_PullRequestSynchronize(t *testing.T) {
	t.Parallel()

	route, err := RouteEvent("pull_request", prEventBody("synchronize"))
	if err != nil {
		t.Fatalf("RouteEvent: %v", err)
	}
	if route.Kind != KindPullRequestUpdate || route.Action != "synchronize" {
		t.Errorf("route = %+v, want pull_request_update/synchronize", route)
	}
}

func TestRouteEvent_PullRequestIgnoredActions(t *testing.T) {
	t.Parallel()

	for _, action := range []string{"closed", "labeled", "review_requested", "edited"} {
		route, err := RouteEvent("pull_request", prEventBody(action))
		if err != nil {
			t.Fatalf("RouteEvent(%s): %v", action, err)
		}
		if route.Kind != KindIgnored {
			t.Errorf("action %q: Kind = %q, want ignored", action, route.Kind)
		}
	}
}

func TestRouteEvent_PullRequestMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"action": "opened"`},
		{"missing pull_request", `{"action": "opened"}`},
		{"missing user", `{"action": "opened", "pull_request": {"id": 1, "head": {"repo": {"full_name": "a/b"}}}}`},
		{"missing head repo", `{"action": "opened", "pull_request": {"id": 1, "user": {"login": "x"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := RouteEvent("pull_request", []byte(tc.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestRouteEvent_CommentTriageCommand(t *testing.T) {
	t.Parallel()

	route, err := RouteEvent("issue_comment", commentEventBody("created", "@prcopilot /triage", true))
	if err != nil {
		t.Fatalf("RouteEvent: %v", err)
	}
	if route.Kind != KindCommentCommand {
		t.Fatalf("Kind = %q, want %q", route.Kind, KindCommentCommand)
	}
	if route.Command == nil || route.Command.Action != CommandTriage {
		t.Fatalf("Command = %+v, want triage", route.Command)
	}
	sig := route.Signal
	if sig.GitHubPRID != 9001 || sig.RepoFullName != "acme/widgets" || sig.Author != "octocat" {
		t.Errorf("signal fields not extracted: %+v", sig)
	}
	// Diff counters are unavailable from issue_comment payloads.
	if sig.Additions != 0 || sig.ChangedFiles != 0 {
		t.Errorf("expected zero diff counters, got %+v", sig)
	}
}

func TestRouteEvent_CommentIgnores(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   []byte
		reason string
	}{
		{"edited action", commentEventBody("edited", "@prcopilot /triage", true), "action not processed"},
		{"no bot mention", commentEventBody("created", "looks good to me", true), "not_a_bot_command"},
		{"unknown subcommand", commentEventBody("created", "@prcopilot /deploy", true), "invalid_command"},
		{"mention without subcommand", commentEventBody("created", "@prcopilot what do you think?", true), "invalid_command"},
		{"plain issue", commentEventBody("created", "@prcopilot /triage", false), "not_a_pr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			route, err := RouteEvent("issue_comment", tc.body)
			if err != nil {
				t.Fatalf("RouteEvent: %v", err)
			}
			if route.Kind != KindIgnored {
				t.Fatalf("Kind = %q, want ignored", route.Kind)
			}
			if route.Reason != tc.reason {
				t.Errorf("Reason = %q, want %q", route.Reason, tc.reason)
			}
		})
	}
}

func TestRouteEvent_UnknownEventType(t *testing.T) {
	t.Parallel()

	route, err := RouteEvent("push", []byte(`{}`))
	if err != nil {
		t.Fatalf("RouteEvent: %v", err)
	}
	if route.Kind != KindIgnored || route.Reason != "push" {
		t.Errorf("route = %+v, want ignored/push", route)
	}
}
