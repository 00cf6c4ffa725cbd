package github

import (
	"fmt"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

var categoryEmoji = map[pr.Category]string{
	pr.CategoryReadyToMerge:     "\u2705",
	pr.CategoryArchDiscussion:   "\U0001f3d7\ufe0f",
	pr.CategoryMinorFixes:       "\U0001f527",
	pr.CategoryMentorSupport:    "\U0001f465",
	pr.CategoryMaintainerChoice: "\U0001f914",
	pr.CategoryBlockedStale:     "\u23f8\ufe0f",
}

// FormatComment renders the verdict as the markdown block posted to the PR.
// Deterministic: same classification, same bytes.
func FormatComment(c *pr.Classification) string {
	emoji, ok := categoryEmoji[c.Category]
	if !ok {
		emoji = "\U0001f916"
	}

	return fmt.Sprintf(`## %s PR Copilot Analysis

**Classification:** %s
**Priority Score:** %d/100
**Confidence:** %.1f%%

### Reasoning
%s

### Suggested Action
%s

---
*Powered by PR Copilot - AI-Powered PR Management*

Use `+"`@prcopilot /triage`"+` to re-analyze this PR.
`,
		emoji,
		c.Category,
		c.Priority,
		c.Confidence*100,
		c.Reasoning,
		c.SuggestedAction,
	)
}
