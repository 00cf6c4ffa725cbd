// Package triage provides the business boundary for PR Copilot's
// classification pipeline. It defines the Engine (prompt construction, LLM
// call, validation, deterministic fallback), the Service (context
// enrichment, exactly-once persistence, comment publishing), the Runner
// (retry boundary), the Store interface, and domain wiring types.
package triage
