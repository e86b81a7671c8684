package workflow

import "fmt"

type Guard int

const (
	GuardAlways Guard = iota
	// GuardDone holds when the latest review accepted the draft or the revision cap is met.
	GuardDone
	GuardContinue
)

func (g Guard) String() string {
	switch g {
	case GuardAlways:
		return "always"
	case GuardDone:
		return "done"
	case GuardContinue:
		return "continue"
	default:
		return fmt.Sprintf("guard(%d)", int(g))
	}
}

func (g Guard) Holds(s State) bool {
	switch g {
	case GuardAlways:
		return true
	case GuardDone:
		return s.Done()
	case GuardContinue:
		return !s.Done()
	default:
		return false
	}
}

type Transition struct {
	From  Stage
	Guard Guard
	To    Stage
}

// Transitions is evaluated top to bottom; the first row whose guard holds wins.
var Transitions = []Transition{
	{From: StageSchemaLookup, Guard: GuardAlways, To: StageDrafting},
	{From: StageDrafting, Guard: GuardAlways, To: StageReviewing},
	{From: StageReviewing, Guard: GuardDone, To: StageTerminated},
	{From: StageReviewing, Guard: GuardContinue, To: StageFeedback},
	{From: StageFeedback, Guard: GuardAlways, To: StageDrafting},
}

// Next returns the stage that follows a completed stage.
func Next(from Stage, s State) (Stage, error) {
	if from == StageTerminated {
		return StageTerminated, nil
	}
	for _, t := range Transitions {
		if t.From == from && t.Guard.Holds(s) {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("no transition from stage %q", from)
}
