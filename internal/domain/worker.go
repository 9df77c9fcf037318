package domain

// Worker is the capability set shared by all four worker roles: ideation,
// refiner, media, factchecker. Each role is a variant of this closed tag
// dispatched by a small vtable (internal/worker.Registry), not a deep
// inheritance hierarchy.
type Worker interface {
	Kind() WorkerKind
	// Validate enforces the worker's contract over a request already
	// enriched with its ProjectContext (e.g. ContentLength <= MaxContextLength).
	Validate(ctx Context, req Request, pc ProjectContext) error
	// BuildSystemContext renders the worker-specific system prompt fragment
	// from the enriched context. Prompt template authoring itself is out of
	// scope; this only supplies the structured inputs a template would need.
	BuildSystemContext(pc ProjectContext) string
	// Process runs the worker's substages over req and returns a Response.
	// Implementations must never panic; irrecoverable internal failures are
	// converted to a well-formed fallback response where the worker's
	// contract promises totality (see the fact-checker).
	Process(ctx Context, req Request, pc ProjectContext) (Response, error)
	// HealthCheck reports whether the worker's upstream dependencies are
	// currently usable. Used by the router to skip unhealthy targets.
	HealthCheck(ctx Context) error
}
