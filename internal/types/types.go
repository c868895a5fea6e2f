// Package types holds the shared entity structs that flow between stores,
// the consolidation engine, the retrieval planner and the facade. Keeping
// them in one package with no store dependencies avoids import cycles, the
// same reason the teacher's own types package exists.
package types

import "time"

// EventType enumerates the kinds of EpisodicEvent.
type EventType string

const (
	EventToolExecution EventType = "tool_execution"
	EventUserInput     EventType = "user_input"
	EventAgentOutput   EventType = "agent_output"
	EventError         EventType = "error"
	EventDecision      EventType = "decision"
	EventFileChange    EventType = "file_change"
	EventExternal      EventType = "external"
)

// Lifecycle enumerates EpisodicEvent lifecycle states.
type Lifecycle string

const (
	LifecycleActive        Lifecycle = "active"
	LifecycleConsolidating Lifecycle = "consolidating"
	LifecycleConsolidated  Lifecycle = "consolidated"
	LifecycleArchived      Lifecycle = "archived"
)

// EpisodicEvent is an append-only observation, per spec.md §3.
type EpisodicEvent struct {
	ID                  string
	ProjectID           string
	SessionID           string
	SourceID            string
	EventType           EventType
	Content             string
	StructuredContext   map[string]interface{}
	ContentHash         [32]byte
	Embedding           []float32
	Timestamp           time.Time
	Lifecycle           Lifecycle
	Importance          float64
	Actionability       float64
	ContextCompleteness float64
	CausalityParent     *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MemoryType enumerates SemanticMemory kinds.
type MemoryType string

const (
	MemoryFact    MemoryType = "fact"
	MemoryPattern MemoryType = "pattern"
	MemoryInsight MemoryType = "insight"
	MemoryRule    MemoryType = "rule"
)

// ConsolidationState enumerates SemanticMemory consolidation states.
type ConsolidationState string

const (
	ConsolidationUnconsolidated ConsolidationState = "unconsolidated"
	ConsolidationConsolidated   ConsolidationState = "consolidated"
)

// SemanticMemory is a durable, de-duplicated knowledge item.
type SemanticMemory struct {
	ID                string
	ProjectID         string
	Content           string
	Embedding         []float32
	MemoryType        MemoryType
	Provenance        []string
	Confidence        float64
	ConsolidationState ConsolidationState
	LastAccessed      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActionStep is one entry in a Procedure's ordered step list.
type ActionStep struct {
	Order       int
	Description string
	Action      string
	Params      map[string]interface{}
}

// Procedure is a reusable, versioned workflow.
type Procedure struct {
	ID             string
	ProjectID      string
	Name           string
	Description    string
	Category       string
	Version        int
	Steps          []ActionStep
	TriggerPattern string
	ExecutionCount int
	SuccessCount   int
	LastExecuted   time.Time
	Effectiveness  float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskStatus enumerates Task statuses.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskBlocked   TaskStatus = "blocked"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskPhase enumerates Task phases.
type TaskPhase string

const (
	PhasePlanning  TaskPhase = "planning"
	PhaseExecuting TaskPhase = "executing"
	PhaseVerifying TaskPhase = "verifying"
	PhaseCompleted TaskPhase = "completed"
)

// TriggerKind enumerates Trigger kinds.
type TriggerKind string

const (
	TriggerTime      TriggerKind = "time"
	TriggerEvent     TriggerKind = "event"
	TriggerFile      TriggerKind = "file"
	TriggerPredicate TriggerKind = "predicate"
)

// Trigger is a typed condition attached to a Task.
type Trigger struct {
	Kind   TriggerKind
	Params map[string]interface{}
}

// Task is a future-oriented prospective-memory item.
type Task struct {
	ID           string
	ProjectID    string
	ParentID     *string
	Title        string
	Description  string
	Status       TaskStatus
	Priority     int
	Phase        TaskPhase
	Triggers     []Trigger
	Dependencies []string
	Deadline     *time.Time
	Progress     float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entity is a graph node.
type Entity struct {
	ID         string
	ProjectID  string
	Name       string
	EntityType string
	Description string
	Properties map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Relation is a typed, weighted graph edge.
type Relation struct {
	ID             string
	ProjectID      string
	FromEntity     string
	ToEntity       string
	RelationType   string
	Weight         float64
	TemporalBoundsStart *time.Time
	TemporalBoundsEnd   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Community is a cluster of entities from community detection.
type Community struct {
	ID             string
	ProjectID      string
	Level          int
	MemberEntities []string
	Summary        string
	CreatedAt      time.Time
}

// SubjectKind enumerates MetaRecord subject kinds.
type SubjectKind string

const (
	SubjectEvent    SubjectKind = "event"
	SubjectSemantic SubjectKind = "semantic"
	SubjectProcedure SubjectKind = "procedure"
	SubjectEntity   SubjectKind = "entity"
	SubjectDomain   SubjectKind = "domain"
)

// QualityMetrics holds the decayed quality signals tracked per subject.
type QualityMetrics struct {
	Compression float64
	Recall      float64
	Consistency float64
}

// MetaRecord tracks per-item quality and attention.
type MetaRecord struct {
	SubjectKind    SubjectKind
	SubjectID      string
	ProjectID      string
	Quality        QualityMetrics
	AttentionWeight float64
	LastEvaluated  time.Time
}

// WorkingMemComponent enumerates Baddeley-style working-memory components.
type WorkingMemComponent string

const (
	ComponentPhonological   WorkingMemComponent = "phonological"
	ComponentVisuospatial   WorkingMemComponent = "visuospatial"
	ComponentEpisodicBuffer WorkingMemComponent = "episodic_buffer"
	ComponentCentralExec    WorkingMemComponent = "central_executive"
)

// WorkingMemoryItem is a bounded, decaying active-set entry.
type WorkingMemoryItem struct {
	ID           string
	ProjectID    string
	Content      string
	Component    WorkingMemComponent
	Activation   float64
	DecayRate    float64
	Importance   float64
	LastAccessed time.Time
	Embedding    []float32
}

// SessionContext tracks one session's lifecycle.
type SessionContext struct {
	SessionID string
	ProjectID string
	Task      string
	Phase     string
	StartedAt time.Time
	EndedAt   *time.Time
	EventIDs  []string
}

// IngestionCursor is an opaque per-source bookmark.
type IngestionCursor struct {
	SourceID   string
	CursorBlob []byte
	UpdatedAt  time.Time
}

// DecisionRecord captures one verification gate outcome for the observer.
type DecisionRecord struct {
	ID         string
	Operation  string
	Timestamp  time.Time
	GatesRun   []string
	Violations []string
	Confidence float64
	Outcome    *string
	Correct    *bool
}

// EventHash is the physical dedup index entry.
type EventHash struct {
	ProjectID   string
	ContentHash [32]byte
	FirstSeenAt time.Time
}
