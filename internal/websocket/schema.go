package websocket

import (
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionState         Action = "state"
	ActionAnswer        Action = "answer"
	ActionClear         Action = "clear"
	ActionGoTo          Action = "goto"
	ActionNext          Action = "next"
	ActionPrevious      Action = "previous"
	ActionSubmitIntent  Action = "submit_intent"
	ActionSubmitCancel  Action = "submit_cancel"
	ActionSubmitConfirm Action = "submit_confirm"
	ActionExit          Action = "exit"
	ActionContinue      Action = "continue"
	ActionAbandon       Action = "abandon"
	ActionRetry         Action = "retry"
	ActionHome          Action = "home"
	ActionPing          Action = "ping"
)

// Request is a client message. Only the fields of its action are read.
//
//	answer:  question_id plus text (short, tf), option (mcq) or
//	         option with selected (multi)
//	clear:   question_id
//	goto:    index
type Request struct {
	Action     Action  `json:"action"`
	QuestionID string  `json:"question_id,omitempty"`
	Text       *string `json:"text,omitempty"`
	Option     *int    `json:"option,omitempty"`
	Selected   *bool   `json:"selected,omitempty"`
	Index      *int    `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState       Event = "state"
	EventRequireAuth Event = "require_auth"
	EventError       Event = "error"
	EventSubmitted   Event = "submitted"
	EventHome        Event = "home"
	EventPong        Event = "pong"
)

// StateResponse carries a fresh view. Clients drop views whose seq is lower
// than the last one rendered.
type StateResponse struct {
	Event Event        `json:"event"`
	View  session.View `json:"view"`
}

type RequireAuthResponse struct {
	Event  Event  `json:"event"`
	TestID string `json:"test_id"`
}

type ErrorResponse struct {
	Event     Event            `json:"event"`
	Code      response.ErrCode `json:"code"`
	Error     string           `json:"error"`
	Retryable bool             `json:"retryable"`
}

type SubmittedResponse struct {
	Event   Event                   `json:"event"`
	Receipt model.SubmissionReceipt `json:"receipt"`
}

type HomeResponse struct {
	Event Event `json:"event"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
