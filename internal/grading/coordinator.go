package grading

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// Coordinator turns an identity and its answers into exactly one delivery
// attempt. It never retries, deduplicates or cleans up.
type Coordinator struct {
	sender Sender
	log    zerolog.Logger
}

func NewCoordinator(sender Sender, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		sender: sender,
		log:    log.With().Str("component", "submission_coordinator").Logger(),
	}
}

// Submit sends the payload built from identity and answers.
func (c *Coordinator) Submit(ctx context.Context, testID string, identity model.TestIdentity, answers model.AnswerMap) model.SubmissionResult {
	payload := model.NewSubmissionPayload(identity, answers)
	start := time.Now()

	id, err := c.sender.Send(ctx, testID, payload)
	if err != nil {
		if _, ok := AsSubmissionError(err); !ok {
			err = &SubmissionError{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
		c.log.Warn().Err(err).
			Str("test_id", testID).
			Dur("elapsed", time.Since(start)).
			Msg("Submission rejected")
		return model.SubmissionResult{Err: err}
	}

	c.log.Info().
		Str("test_id", testID).
		Str("submission_id", id).
		Int("answers", len(payload.Answers)).
		Dur("elapsed", time.Since(start)).
		Msg("Submission acknowledged")
	return model.SubmissionResult{SubmissionID: id}
}
