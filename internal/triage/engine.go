package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

const (
	// ResponseTokens bounds the classification reply. The verdict object is
	// small; anything past this is the model rambling.
	ResponseTokens = 1000

	// ClassifyTemperature keeps decoding near-deterministic so repeated
	// classifications of the same PR agree.
	ClassifyTemperature = 0.1

	// fallbackConfidence signals a low-trust automated guess.
	fallbackConfidence = 0.3
)

// Source says which path produced a classification.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// EngineHooks are optional observation callbacks, typically wired to
// Prometheus by main.
type EngineHooks struct {
	OnLLMCall  func(inputTokens, outputTokens int, duration float64)
	OnClassify func(source Source, category pr.Category, duration float64)
}

// Engine classifies pull requests. It is pure orchestration: no store
// dependency, no retry logic, and it never returns an error — every failure
// path resolves to a verdict via the fallback heuristic.
type Engine struct {
	provider Provider
	logger   log.Logger
	hooks    EngineHooks
}

// NewEngine creates a classification engine.
func NewEngine(provider Provider, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		provider: provider,
		logger:   logger,
		hooks:    hooks,
	}
}

// Classify produces a verdict for signal, enriched by prCtx when available.
// A nil prCtx falls back to documented defaults (unknown CI status, zero
// counts, no conflicts).
func (e *Engine) Classify(ctx context.Context, signal *pr.Signal, prCtx *pr.Context) *pr.Classification {
	start := time.Now()

	merged := pr.DefaultContext()
	if prCtx != nil {
		merged = *prCtx
	}

	source := SourceLLM
	result, err := e.classifyLLM(ctx, signal, merged)
	if err != nil {
		e.logger.Warn(ctx, "classification service failed, using fallback heuristic",
			"pr_id", signal.GitHubPRID,
			"repo", signal.RepoFullName,
			"error", err,
		)
		source = SourceFallback
		result = fallbackClassification(signal, merged)
	}

	if e.hooks.OnClassify != nil {
		e.hooks.OnClassify(source, result.Category, time.Since(start).Seconds())
	}

	return result
}

func (e *Engine) classifyLLM(ctx context.Context, signal *pr.Signal, prCtx pr.Context) (*pr.Classification, error) {
	llmStart := time.Now()
	resp, err := e.provider.Send(ctx, &LLMRequest{
		System:      systemPrompt,
		Prompt:      buildPrompt(signal, prCtx),
		MaxTokens:   ResponseTokens,
		Temperature: ClassifyTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(llmStart).Seconds())
	}

	raw, err := parseVerdictJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := validateVerdict(raw)

	e.logger.Info(ctx, "llm classification",
		"pr_id", signal.GitHubPRID,
		"category", result.Category,
		"confidence", result.Confidence,
		"priority", result.Priority,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"model", resp.Model,
	)

	return result, nil
}

const systemPrompt = "You are a PR triage expert with deep knowledge of software development workflows. " +
	"Analyze pull requests and provide structured, actionable insights. " +
	"Respond with a single JSON object and nothing else."

// buildPrompt enumerates every signal the classifier should weigh. Field
// wording matters: the category names must round-trip verbatim.
func buildPrompt(signal *pr.Signal, prCtx pr.Context) string {
	description := signal.Description
	if description == "" {
		description = "No description"
	}

	return fmt.Sprintf(`Analyze this GitHub pull request and classify it according to the categories below.

PR Details:
- Title: %s
- Description: %s
- Author: %s (Contributions: %d)
- Changes: +%d additions, -%d deletions
- Files changed: %d
- Commits: %d
- Draft: %t
- Has conflicts: %t
- CI Status: %s
- Reviews: %d
- Days since created: %d

Classify this PR into ONE of these categories:

1. **Ready to Merge** - All checks pass, trusted contributor, no major issues
2. **Needs Architecture Discussion** - Large changes, breaking changes, or architectural decisions needed
3. **Needs Minor Fixes** - Small issues like formatting, tests, documentation, or minor bugs
4. **Needs Mentor Support** - First-time contributor or needs guidance
5. **Needs Maintainer Decision** - Policy questions, roadmap decisions, or maintainer input needed
6. **Blocked/Stale** - Has conflicts, failing CI, inactive for >14 days, or other blockers

Also assign a priority score (0-100) based on:
- Security/bug fixes: High priority (70-100)
- Feature additions: Medium priority (40-70)
- Documentation/typos: Low priority (0-40)
- Consider impact, urgency, and maintainer workload

Provide your analysis in this exact JSON format:
{
  "classification": "exact category name",
  "confidence": 0.85,
  "priority_score": 75,
  "reasoning": "Brief explanation of why this classification was chosen",
  "suggested_action": "Specific action the maintainer should take next"
}`,
		signal.Title,
		description,
		signal.Author,
		prCtx.AuthorContributions,
		signal.Additions,
		signal.Deletions,
		signal.ChangedFiles,
		signal.Commits,
		signal.Draft,
		prCtx.HasConflicts,
		prCtx.CIStatus,
		prCtx.ReviewCount,
		prCtx.DaysSinceCreated,
	)
}

// rawVerdict is the loosely-typed reply shape. Confidence and priority come
// in as raw JSON so coercion failures degrade to defaults instead of
// rejecting the whole object.
type rawVerdict struct {
	Classification  string          `json:"classification"`
	Confidence      json.RawMessage `json:"confidence"`
	PriorityScore   json.RawMessage `json:"priority_score"`
	Reasoning       string          `json:"reasoning"`
	SuggestedAction string          `json:"suggested_action"`
}

// parseVerdictJSON extracts the first JSON object from the reply. Models
// occasionally wrap output in code fences or prose even when told not to.
func parseVerdictJSON(text string) (*rawVerdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	return &raw, nil
}

// validateVerdict clamps a raw reply into the invariant ranges. An unknown
// category becomes Needs Minor Fixes: ambiguous verdicts lean toward human
// triage rather than auto-merge.
func validateVerdict(raw *rawVerdict) *pr.Classification {
	c := &pr.Classification{
		Category:        pr.Category(raw.Classification),
		Confidence:      coerceFloat(raw.Confidence, 0.5),
		Priority:        coerceInt(raw.PriorityScore, 50),
		Reasoning:       raw.Reasoning,
		SuggestedAction: raw.SuggestedAction,
	}

	if !c.Category.Valid() {
		c.Category = pr.CategoryMinorFixes
	}
	c.Confidence = clampFloat(c.Confidence, 0.0, 1.0)
	c.Priority = clampInt(c.Priority, 0, 100)

	if c.Reasoning == "" {
		c.Reasoning = "Analysis completed"
	}
	if c.SuggestedAction == "" {
		c.SuggestedAction = "Review and take appropriate action"
	}
	return c
}

// fallbackClassification is the deterministic heuristic used when the
// reasoning service is unavailable or returns unusable output. It consults
// only local signals, so it is reproducible without any external call.
func fallbackClassification(signal *pr.Signal, prCtx pr.Context) *pr.Classification {
	var category pr.Category
	var priority int

	switch {
	case signal.Draft:
		category, priority = pr.CategoryMinorFixes, 20
	case prCtx.HasConflicts:
		category, priority = pr.CategoryBlockedStale, 80
	case signal.Additions > 500:
		category, priority = pr.CategoryArchDiscussion, 60
	default:
		category, priority = pr.CategoryReadyToMerge, 50
	}

	return &pr.Classification{
		Category:        category,
		Confidence:      fallbackConfidence,
		Priority:        priority,
		Reasoning:       "Fallback classification due to analysis error",
		SuggestedAction: "Manual review recommended",
	}
}

func coerceFloat(raw json.RawMessage, def float64) float64 {
	if len(raw) == 0 {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return def
}

func coerceInt(raw json.RawMessage, def int) int {
	if len(raw) == 0 {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return def
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
