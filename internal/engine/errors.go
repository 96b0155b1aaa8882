package engine

import "errors"

// Error kind sentinels per spec.md §7's Error Handling Design. Callers
// use errors.Is against these to decide retry/dead-letter/log
// behavior; the engine itself never panics on anything but a
// programmer error (a nil dependency, an impossible type switch).
var (
	// ErrTransient marks store/channel/LLM/media I/O failures that
	// should be retried with backoff inside the caller's per-item claim.
	ErrTransient = errors.New("engine: transient I/O error")

	// ErrSchema marks an LLM response that failed to parse as JSON or
	// didn't match the expected shape. The engine itself recovers from
	// this internally (ai_uncertainty safety-net escalation) — it is
	// exposed for observability, not for caller-driven retry.
	ErrSchema = errors.New("engine: LLM response parse/schema error")

	// ErrPrecondition marks a missing session or tenant config — the
	// caller should mark the unit failed, not retry.
	ErrPrecondition = errors.New("engine: precondition not met")

	// ErrIdempotent marks an operation that found existing state
	// satisfying the request (e.g. an escalation already open) and
	// should be treated as success by the caller.
	ErrIdempotent = errors.New("engine: idempotent no-op")
)
