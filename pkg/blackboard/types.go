package blackboard

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskKind identifies which variant of the task union a Task carries.
// Each pipeline stage claims only the kinds it knows how to process.
type TaskKind string

const (
	// KindTurnIngest carries a single raw transcript turn (analyzer input).
	KindTurnIngest TaskKind = "turn_ingest"

	// KindClaimProposed carries a claim candidate emitted by the analyzer.
	KindClaimProposed TaskKind = "claim_proposed"

	// KindActionProposed carries an action candidate emitted by the analyzer.
	KindActionProposed TaskKind = "action_proposed"

	// KindActionValidated carries an action that survived dedup/conflict
	// checking (publisher input).
	KindActionValidated TaskKind = "action_validated"

	// KindActionDecision carries the user's terminal accept/dismiss response
	// to a suggested action.
	KindActionDecision TaskKind = "action_decision"

	// KindConversationFinalize is a no-op marker that occupies a queue slot
	// so a caller awaiting Drain is guaranteed the queue was non-empty at
	// least once after finalization was requested.
	KindConversationFinalize TaskKind = "conversation_finalize"
)

// AllKinds lists every task kind, in pipeline order.
var AllKinds = []TaskKind{
	KindTurnIngest,
	KindClaimProposed,
	KindActionProposed,
	KindActionValidated,
	KindActionDecision,
	KindConversationFinalize,
}

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Category buckets a claim by the kind of fact it states about the user.
type Category string

const (
	CategoryPreferences   Category = "preferences"
	CategorySkills        Category = "skills"
	CategoryRelationships Category = "relationships"
	CategoryOther         Category = "other"
)

// ParseCategory maps a raw category string onto a known Category.
// Unknown or empty input defaults to CategoryOther.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryPreferences, CategorySkills, CategoryRelationships, CategoryOther:
		return Category(s)
	default:
		return CategoryOther
	}
}

// DueWindow is the coarse deadline bucket for a suggested action.
type DueWindow string

const (
	DueToday     DueWindow = "Today"
	DueThisWeek  DueWindow = "This Week"
	DueThisMonth DueWindow = "This Month"
	DueSomeday   DueWindow = "Everything else"
)

// ParseDueWindow maps a raw due-window string onto a known DueWindow.
// Unknown or empty input defaults to DueSomeday ("Everything else").
func ParseDueWindow(s string) DueWindow {
	switch DueWindow(s) {
	case DueToday, DueThisWeek, DueThisMonth, DueSomeday:
		return DueWindow(s)
	default:
		return DueSomeday
	}
}

// Turn is a single speaker turn from a conversation transcript.
type Turn struct {
	Speaker     Speaker `json:"speaker"`
	Text        string  `json:"text"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// ClaimCandidate is a claim extracted from a turn, before validation.
type ClaimCandidate struct {
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"` // in [0,1]
	Evidence   []string `json:"evidence"`   // ordered source snippets
}

// ActionCandidate is a follow-up suggestion extracted from a turn.
// The same shape flows through both the proposed and validated stages.
type ActionCandidate struct {
	Title     string    `json:"title"`
	DueWindow DueWindow `json:"due_window"`
	Source    string    `json:"source"`
	Reminder  bool      `json:"reminder"`
	Evidence  []string  `json:"evidence"`
}

// Decision is the user's terminal response to a suggested action.
type Decision struct {
	Title     string    `json:"title"`
	DueWindow DueWindow `json:"due_window"`
	Accepted  bool      `json:"accepted"`
}

// Task is one immutable unit of work flowing through the blackboard.
// It is a tagged union: Kind selects which payload pointer is set, and
// Validate enforces that exactly the matching one is. ID and CreatedAtMs
// are assigned by Queue.Enqueue; a Task is never mutated after that.
type Task struct {
	ID             string   `json:"id"`
	Kind           TaskKind `json:"kind"`
	ConversationID string   `json:"conversation_id"`
	CreatedAtMs    int64    `json:"created_at_ms"`

	Turn     *Turn            `json:"turn,omitempty"`
	Claim    *ClaimCandidate  `json:"claim,omitempty"`
	Action   *ActionCandidate `json:"action,omitempty"`
	Decision *Decision        `json:"decision,omitempty"`
}

// NewTurnIngest builds an unstamped TurnIngest task.
func NewTurnIngest(conversationID string, turn Turn) *Task {
	return &Task{Kind: KindTurnIngest, ConversationID: conversationID, Turn: &turn}
}

// NewClaimProposed builds an unstamped ClaimProposed task.
func NewClaimProposed(conversationID string, claim ClaimCandidate) *Task {
	return &Task{Kind: KindClaimProposed, ConversationID: conversationID, Claim: &claim}
}

// NewActionProposed builds an unstamped ActionProposed task.
func NewActionProposed(conversationID string, action ActionCandidate) *Task {
	return &Task{Kind: KindActionProposed, ConversationID: conversationID, Action: &action}
}

// NewActionValidated builds an unstamped ActionValidated task carrying the
// original proposed payload.
func NewActionValidated(conversationID string, action ActionCandidate) *Task {
	return &Task{Kind: KindActionValidated, ConversationID: conversationID, Action: &action}
}

// NewActionDecision builds an unstamped ActionUserDecision task.
func NewActionDecision(conversationID string, decision Decision) *Task {
	return &Task{Kind: KindActionDecision, ConversationID: conversationID, Decision: &decision}
}

// NewConversationFinalize builds an unstamped finalize marker.
func NewConversationFinalize(conversationID string) *Task {
	return &Task{Kind: KindConversationFinalize, ConversationID: conversationID}
}

// Validate checks if the TaskKind is a valid enum value.
func (k TaskKind) Validate() error {
	switch k {
	case KindTurnIngest, KindClaimProposed, KindActionProposed,
		KindActionValidated, KindActionDecision, KindConversationFinalize:
		return nil
	default:
		return fmt.Errorf("unknown task kind: %q", k)
	}
}

// Validate checks the Task's field values and that exactly the payload
// matching its kind is present.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}

	if err := t.Kind.Validate(); err != nil {
		return err
	}

	if t.ConversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}

	if err := t.validatePayload(); err != nil {
		return err
	}

	return nil
}

// validatePayload enforces the tagged-union shape: one payload, matching
// the kind. Finalize tasks carry no payload at all.
func (t *Task) validatePayload() error {
	var want string
	set := 0
	if t.Turn != nil {
		set++
	}
	if t.Claim != nil {
		set++
	}
	if t.Action != nil {
		set++
	}
	if t.Decision != nil {
		set++
	}

	switch t.Kind {
	case KindTurnIngest:
		want = "turn"
		if t.Turn == nil || set != 1 {
			return fmt.Errorf("task kind %s requires exactly the %s payload", t.Kind, want)
		}
		if t.Turn.Speaker != SpeakerUser && t.Turn.Speaker != SpeakerAssistant {
			return fmt.Errorf("unknown speaker: %q", t.Turn.Speaker)
		}
	case KindClaimProposed:
		want = "claim"
		if t.Claim == nil || set != 1 {
			return fmt.Errorf("task kind %s requires exactly the %s payload", t.Kind, want)
		}
		if t.Claim.Confidence < 0 || t.Claim.Confidence > 1 {
			return fmt.Errorf("claim confidence must be in [0,1], got %v", t.Claim.Confidence)
		}
	case KindActionProposed, KindActionValidated:
		want = "action"
		if t.Action == nil || set != 1 {
			return fmt.Errorf("task kind %s requires exactly the %s payload", t.Kind, want)
		}
	case KindActionDecision:
		want = "decision"
		if t.Decision == nil || set != 1 {
			return fmt.Errorf("task kind %s requires exactly the %s payload", t.Kind, want)
		}
	case KindConversationFinalize:
		if set != 0 {
			return fmt.Errorf("task kind %s carries no payload", t.Kind)
		}
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
