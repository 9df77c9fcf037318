// Package domain defines core entities, ports, and domain-specific errors
// shared across the orchestration runtime.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across
// layers; adapters and services pass context.Context through unchanged.
type Context = context.Context

// Error taxonomy (sentinels). Components wrap these with %w so callers can
// discriminate via errors.Is while the log line keeps the detail.
var (
	ErrValidation       = errors.New("validation error")
	ErrRateLimited      = errors.New("rate limited")
	ErrNoAgentAvailable = errors.New("no agent available")
	ErrTimeout          = errors.New("timeout")
	ErrCircuitOpen      = errors.New("circuit open")
	ErrUpstream         = errors.New("upstream error")
	ErrWorkerCallFailed = errors.New("worker call failed")
	ErrPersistence      = errors.New("persistence error")
	ErrInternal         = errors.New("internal error")
)

// WorkerKind identifies one of the four specialized worker roles.
type WorkerKind string

// Recognized worker roles.
const (
	WorkerIdeation    WorkerKind = "ideation"
	WorkerRefiner     WorkerKind = "refiner"
	WorkerMedia       WorkerKind = "media"
	WorkerFactChecker WorkerKind = "factchecker"
)

// PhaseStatus captures where a phase sits in its lifecycle.
type PhaseStatus string

// Recognized phase statuses.
const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
)

// Phase is one stage of a project corresponding to a worker kind. Exactly
// one phase per project is Active at a time; transitions are
// pending -> active -> completed|failed, with re-activation to active
// permitted on rollback.
type Phase struct {
	ID          string
	Kind        WorkerKind
	Status      PhaseStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Outputs     map[string]any
}

// RequestType classifies the inbound request for routing purposes.
type RequestType string

// Recognized request types.
const (
	RequestNewConversation      RequestType = "new_conversation"
	RequestContinueConversation RequestType = "continue_conversation"
	RequestPhaseTransition      RequestType = "phase_transition"
)

// Personality is the user's preferred writing voice.
type Personality string

// Recognized personalities.
const (
	PersonalityCasual Personality = "casual"
	PersonalityFormal Personality = "formal"
	PersonalityDirect Personality = "direct"
)

// Experience is the user's self-reported writing experience level.
type Experience string

// Recognized experience levels.
const (
	ExperienceBeginner     Experience = "beginner"
	ExperienceIntermediate Experience = "intermediate"
	ExperienceAdvanced     Experience = "advanced"
)

// UserPreferences captures durable per-project writing preferences.
type UserPreferences struct {
	Personality Personality
	Genres      []string
	Experience  Experience
}

// StyleGuide is an optional reference voice attached to a project.
type StyleGuide struct {
	ReferenceWriters []string
	Tone             string
	TargetAudience   string
	ExampleText      string
}

// PreviousPhase is a historical entry in a project's phase timeline.
// Invariant: the slice holding these is append-only except for a status
// transition on the latest entry, and CompletedAt is monotonic.
type PreviousPhase struct {
	WorkerKind  WorkerKind
	Status      PhaseStatus
	Outputs     map[string]any
	Summary     string
	CompletedAt time.Time
}

// ConversationSummary is a bounded entry in a project's conversation history.
type ConversationSummary struct {
	ConversationID  string
	WorkerKind      WorkerKind
	MessageCount    int
	LastMessageSnip string
	Timestamp       time.Time
}

// ProjectContext is the per-(project, conversation) enriched context loaded
// and refreshed by the context store. A context entry exists iff at least
// one message has been dispatched for that pair.
type ProjectContext struct {
	ProjectID           string
	ConversationID      string
	PreviousPhases      []PreviousPhase
	UserPreferences     UserPreferences
	ProjectContent      string
	ConversationHistory []ConversationSummary
	StyleGuide          *StyleGuide
	UpdatedAt           time.Time
}

// Request is an inbound writing request routed to exactly one worker.
type Request struct {
	UserID          string         `validate:"required"`
	ProjectID       string         `validate:"required"`
	ConversationID  string         `validate:"omitempty,max=100"`
	Content         string         `validate:"required"`
	PreferredWorker WorkerKind     `validate:"omitempty,oneof=ideation refiner media factchecker"`
	Options         map[string]any `validate:"omitempty"`
}

// TokenUsage records prompt/completion token counts and derived cost.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
	CostUSD    float64
}

// ResponseMetadata carries the non-content facts about a worker response.
type ResponseMetadata struct {
	ProcessingTimeMs int64
	TokenUsage       TokenUsage
	Model            string
	Confidence       float64 // [0,1]
	NextSteps        []string
}

// SuggestionKind classifies a response-level follow-up suggestion: an
// action the writer should take, a resource worth consulting, or an
// improvement to the content itself.
type SuggestionKind string

// Recognized suggestion kinds.
const (
	SuggestionAction      SuggestionKind = "action"
	SuggestionResource    SuggestionKind = "resource"
	SuggestionImprovement SuggestionKind = "improvement"
)

// Suggestion is one typed follow-up attached to a Response.
type Suggestion struct {
	Kind     SuggestionKind
	Text     string
	Priority SuggestionPriority
}

// Response is what a worker, and ultimately the orchestrator, returns for a
// Request.
type Response struct {
	Content      string
	Suggestions  []Suggestion
	Metadata     ResponseMetadata
	PhaseOutputs map[string]any
}
