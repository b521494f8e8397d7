package session

import (
	"errors"

	"github.com/stemsi/exstem-session/internal/model"
)

// State is the lifecycle position of a test attempt.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateLoading
	StateInProgress
	StateSubmitting
	StateSubmitted
	StateError
)

var stateNames = [...]string{
	StateUnauthenticated: "unauthenticated",
	StateAuthenticating:  "authenticating",
	StateLoading:         "loading",
	StateInProgress:      "in_progress",
	StateSubmitting:      "submitting",
	StateSubmitted:       "submitted",
	StateError:           "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrNotEditable        = errors.New("session is not accepting edits")
	ErrInvalidAnswer      = errors.New("invalid answer")
	ErrOutOfRange         = errors.New("question index out of range")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrInvalidTransition  = errors.New("operation not allowed in current state")
	ErrUnknownQuestion    = errors.New("unknown question")
)

// Navigator receives the navigation decisions of a controller. Calls are made
// without any controller lock held.
type Navigator interface {
	RequireAuthentication(testID string)
	ShowError(message string, retryable bool)
	ShowSubmissionSuccess(receipt model.SubmissionReceipt)
	ShowHome()
}

// View is a read-only copy of the controller state for rendering.
type View struct {
	// Seq increases with every change; hosts drop views older than the last
	// one they rendered.
	Seq            uint64          `json:"seq"`
	State          State           `json:"state"`
	TestID         string          `json:"test_id"`
	TestTitle      string          `json:"test_title,omitempty"`
	QuestionIDs    []string        `json:"question_ids,omitempty"`
	Question       *model.Question `json:"question,omitempty"`
	Answers        model.AnswerMap `json:"answers,omitempty"`
	Cursor         int             `json:"cursor"`
	Total          int             `json:"total"`
	Answered       int             `json:"answered"`
	Unanswered     int             `json:"unanswered"`
	Percent        int             `json:"percent"`
	TimeLeftMs     int64           `json:"time_left_ms"`
	TimeLeft       string          `json:"time_left"`
	Running        bool            `json:"running"`
	ConfirmPending bool            `json:"confirm_pending"`
	ExitPending    bool            `json:"exit_pending"`
	LastError      string          `json:"last_error,omitempty"`
	Taker          *TakerView      `json:"taker,omitempty"`
}

// TakerView is the identity shown in the session header.
type TakerView struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}
