// Package llm provides backend implementations for the runtime's Backend
// contract.
//
// # Anthropic backend
//
// The primary backend speaks the Anthropic Messages API:
//
//	backend := llm.NewAnthropic() // uses ANTHROPIC_API_KEY
//
//	// Or with an explicit key:
//	backend := llm.NewAnthropic(llm.WithAPIKey("sk-..."))
//
// Models are chosen per call from the workflow's model declarations; the
// backend strips the "anthropic/" vendor prefix before the request.
// Responses stream: each text delta becomes an intermediate run event, and
// the assembled text arrives as the final event. Rate-limited requests
// (429/529) are retried with the server's retry-after delay when given.
//
// # Scripted backend
//
// Scripted replays canned responses in order, for tests and offline runs:
//
//	backend := llm.NewScripted(`{"approved": true}`)
package llm
