package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sqlcrew/sqlcrew/internal/gateway"
)

// runStage mutates state only after the gateway call succeeded, so a failed stage
// leaves the previous draft and verdict intact.
func (c *Controller) runStage(ctx context.Context, stage Stage, state *State) error {
	switch stage {
	case StageSchemaLookup:
		state.TableSchemas = c.schema
		state.Database = c.database
		return nil
	case StageDrafting:
		out, err := c.invoke(ctx, c.prompts.SQLWriter, draftInstruction(*state))
		if err != nil {
			return err
		}
		state.SQL = strings.TrimSpace(out)
		state.Revision++
		return nil
	case StageReviewing:
		out, err := c.invoke(ctx, c.prompts.QAReviewer, reviewInstruction(*state))
		if err != nil {
			return err
		}
		state.Accepted = ParseVerdict(out)
		return nil
	case StageFeedback:
		out, err := c.invoke(ctx, c.prompts.SeniorReviewer, feedbackInstruction(*state))
		if err != nil {
			return err
		}
		state.FeedbackHistory = append(state.FeedbackHistory, out)
		return nil
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// invoke treats a blank response as a failed call rather than an empty draft or verdict.
func (c *Controller) invoke(ctx context.Context, directive, instruction string) (string, error) {
	out, err := c.gateway.Invoke(ctx, directive, instruction)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", &gateway.Error{Provider: c.model, Err: gateway.ErrEmptyResponse}
	}
	return out, nil
}
