package workflow

// DefaultMaxRevision caps a run when the caller passes zero.
const DefaultMaxRevision = 10

type Stage string

const (
	StageSchemaLookup Stage = "schema_lookup"
	StageDrafting     Stage = "drafting"
	StageReviewing    Stage = "reviewing"
	StageFeedback     Stage = "feedback"
	StageTerminated   Stage = "terminated"
)

type TerminationReason string

const (
	ReasonNone        TerminationReason = ""
	ReasonAccepted    TerminationReason = "accepted"
	ReasonRevisionCap TerminationReason = "revision_cap"
)

// State is the single record threaded through one run. Only the drafting stage
// increments Revision, and FeedbackHistory never grows past Revision.
type State struct {
	Question        string   `json:"question"`
	TableSchemas    string   `json:"table_schemas"`
	Database        string   `json:"database"`
	SQL             string   `json:"sql"`
	FeedbackHistory []string `json:"feedback_history"`
	Accepted        bool     `json:"accepted"`
	Revision        int      `json:"revision"`
	MaxRevision     int      `json:"max_revision"`
}

func NewState(question string, maxRevision int) *State {
	return &State{
		Question:        question,
		FeedbackHistory: []string{},
		MaxRevision:     maxRevision,
	}
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	out.FeedbackHistory = make([]string, len(s.FeedbackHistory))
	copy(out.FeedbackHistory, s.FeedbackHistory)
	return out
}

func (s State) Done() bool {
	return s.Accepted || s.Revision >= s.MaxRevision
}

// Reason reports why a run stopped. Acceptance wins when the cap is reached on the
// same pass.
func (s State) Reason() TerminationReason {
	switch {
	case s.Accepted:
		return ReasonAccepted
	case s.Revision >= s.MaxRevision:
		return ReasonRevisionCap
	default:
		return ReasonNone
	}
}
