package model

import "time"

// SnapshotTTL bounds how long a saved snapshot can be resumed.
const SnapshotTTL = time.Hour

// ProgressSnapshot is a serialized copy of in-progress answers, cursor and
// remaining time.
type ProgressSnapshot struct {
	Answers              AnswerMap `json:"answers"`
	CurrentQuestionIndex int       `json:"current_question"`
	TimeLeftMs           int64     `json:"time_left_ms"`
	SavedAt              time.Time `json:"saved_at"`
}
