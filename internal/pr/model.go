// Package pr defines the pull-request domain model shared across the
// webhook, triage, and publishing layers.
package pr

import "time"

// Category is one of the six fixed triage outcomes assigned to a pull request.
type Category string

const (
	CategoryReadyToMerge     Category = "Ready to Merge"
	CategoryArchDiscussion   Category = "Needs Architecture Discussion"
	CategoryMinorFixes       Category = "Needs Minor Fixes"
	CategoryMentorSupport    Category = "Needs Mentor Support"
	CategoryMaintainerChoice Category = "Needs Maintainer Decision"
	CategoryBlockedStale     Category = "Blocked/Stale"
)

// Categories lists every valid classification, in prompt order.
var Categories = []Category{
	CategoryReadyToMerge,
	CategoryArchDiscussion,
	CategoryMinorFixes,
	CategoryMentorSupport,
	CategoryMaintainerChoice,
	CategoryBlockedStale,
}

// Valid reports whether c is a member of the fixed category set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Signal is the normalized subset of a pull-request payload needed for
// classification. Derived once per webhook event, immutable afterwards.
type Signal struct {
	GitHubPRID     int64  `json:"github_pr_id"`
	RepoFullName   string `json:"repository_full_name"`
	Number         int    `json:"pr_number"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Author         string `json:"author"`
	State          string `json:"state"`
	Draft          bool   `json:"draft"`
	Additions      int    `json:"additions"`
	Deletions      int    `json:"deletions"`
	ChangedFiles   int    `json:"changed_files"`
	Commits        int    `json:"commits"`
	InstallationID int64  `json:"installation_id,omitempty"`
}

// Context carries enrichment signals fetched from the platform. All fields
// are optional; a zero Context means "unknown" and never blocks
// classification.
type Context struct {
	CIStatus            string `json:"ci_status"`
	ReviewCount         int    `json:"review_count"`
	AuthorContributions int    `json:"author_contributions"`
	DaysSinceCreated    int    `json:"days_since_created"`
	HasConflicts        bool   `json:"has_conflicts"`
}

// DefaultContext returns the documented defaults used when enrichment is
// unavailable.
func DefaultContext() Context {
	return Context{CIStatus: "unknown"}
}

// Classification is the structured verdict for one pull request.
//
// Invariant: Category is always a member of the fixed six-member set,
// Confidence is within [0.0, 1.0] and Priority within [0, 100] regardless of
// what the reasoning service returned.
type Classification struct {
	Category        Category `json:"classification"`
	Confidence      float64  `json:"confidence"`
	Priority        int      `json:"priority_score"`
	Reasoning       string   `json:"reasoning"`
	SuggestedAction string   `json:"suggested_action"`
}

// Verdict is the durable record keyed by GitHub PR id: the signal fields
// plus the classification plus timestamps. Created exactly once per PR id.
type Verdict struct {
	ID     int64  `json:"id"`
	Signal Signal `json:"signal"`
	Classification
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at,omitempty"`
}
