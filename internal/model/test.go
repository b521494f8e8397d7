package model

import (
	"errors"
	"fmt"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeShort QuestionType = "short"
	QuestionTypeMCQ   QuestionType = "mcq"
	QuestionTypeMulti QuestionType = "multi"
	QuestionTypeTF    QuestionType = "tf"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeShort, QuestionTypeMCQ, QuestionTypeMulti, QuestionTypeTF:
		return true
	}
	return false
}

// Question is a single item of a test definition.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Options []string     `json:"options,omitempty"`
	Marks   int          `json:"marks"`
}

// TestDefinition is the read-only test fetched from the catalog.
type TestDefinition struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DurationMs  int64      `json:"durationMs"`
	Questions   []Question `json:"questions"`
}

var ErrNoQuestions = errors.New("test has no questions")

// Validate checks the structural invariants of a definition.
func (d *TestDefinition) Validate() error {
	if d.ID == "" {
		return errors.New("test id is empty")
	}
	if len(d.Questions) == 0 {
		return ErrNoQuestions
	}
	if d.DurationMs < 0 {
		return fmt.Errorf("negative duration %d", d.DurationMs)
	}

	seen := make(map[string]struct{}, len(d.Questions))
	for i, q := range d.Questions {
		if q.ID == "" {
			return fmt.Errorf("question %d: empty id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("question %d: duplicate id %q", i, q.ID)
		}
		seen[q.ID] = struct{}{}

		if !q.Type.Valid() {
			return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
		}
		if (q.Type == QuestionTypeMCQ || q.Type == QuestionTypeMulti) && len(q.Options) == 0 {
			return fmt.Errorf("question %s: %s requires options", q.ID, q.Type)
		}
		if q.Marks <= 0 {
			return fmt.Errorf("question %s: marks must be positive", q.ID)
		}
	}
	return nil
}

// Question returns the question with the given id.
func (d *TestDefinition) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// TotalMarks sums the marks of all questions.
func (d *TestDefinition) TotalMarks() int {
	total := 0
	for _, q := range d.Questions {
		total += q.Marks
	}
	return total
}
