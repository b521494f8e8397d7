package model

import "time"

// SubmissionPayload is the body sent to the grading collaborator.
type SubmissionPayload struct {
	TakerName  string    `json:"takerName"`
	TakerEmail string    `json:"takerEmail"`
	Answers    AnswerMap `json:"answers"`
}

// NewSubmissionPayload builds the payload from the identity fields.
func NewSubmissionPayload(identity TestIdentity, answers AnswerMap) SubmissionPayload {
	if answers == nil {
		answers = AnswerMap{}
	}
	return SubmissionPayload{
		TakerName:  identity.FullName,
		TakerEmail: identity.Email,
		Answers:    answers,
	}
}

// SubmissionResult is either Ok(SubmissionID) or Err(Err).
type SubmissionResult struct {
	SubmissionID string
	Err          error
}

func (r SubmissionResult) Ok() bool { return r.Err == nil }

// SubmitTrigger identifies what initiated a submission.
type SubmitTrigger string

const (
	TriggerManual SubmitTrigger = "manual"
	TriggerExpiry SubmitTrigger = "expiry"
)

// SubmissionReceipt is handed to the host for the confirmation screen.
type SubmissionReceipt struct {
	SubmissionID  string    `json:"submission_id"`
	TestID        string    `json:"test_id"`
	TestTitle     string    `json:"test_title"`
	TakerName     string    `json:"taker_name"`
	TakerEmail    string    `json:"taker_email"`
	Timestamp     time.Time `json:"timestamp"`
	AutoSubmitted bool      `json:"auto_submitted"`
}

// SubmissionRecord is a ledger entry for an acknowledged submission. It
// belongs to exactly one attempt.
type SubmissionRecord struct {
	TestID        string    `json:"test_id"`
	AttemptID     string    `json:"attempt_id"`
	TakerEmail    string    `json:"taker_email"`
	TakerName     string    `json:"taker_name"`
	SubmissionID  string    `json:"submission_id"`
	TestTitle     string    `json:"test_title"`
	SubmittedAt   time.Time `json:"submitted_at"`
	AutoSubmitted bool      `json:"auto_submitted"`
}

// Receipt rebuilds the confirmation shown for this entry.
func (r SubmissionRecord) Receipt() SubmissionReceipt {
	return SubmissionReceipt{
		SubmissionID:  r.SubmissionID,
		TestID:        r.TestID,
		TestTitle:     r.TestTitle,
		TakerName:     r.TakerName,
		TakerEmail:    r.TakerEmail,
		Timestamp:     r.SubmittedAt,
		AutoSubmitted: r.AutoSubmitted,
	}
}
