package session

import (
	"fmt"
	"slices"

	"github.com/stemsi/exstem-session/internal/model"
)

// SetText answers a short or true/false question. An empty value clears it.
func (c *Controller) SetText(questionID, text string) error {
	return c.edit(questionID, func(q model.Question, _ model.Answer, _ bool) (model.Answer, error) {
		if q.Type != model.QuestionTypeShort && q.Type != model.QuestionTypeTF {
			return model.Answer{}, fmt.Errorf("%w: %s question takes no text", ErrInvalidAnswer, q.Type)
		}
		return model.TextAnswer(text), nil
	})
}

// SelectOption answers a multiple-choice question with one option index.
func (c *Controller) SelectOption(questionID string, index int) error {
	return c.edit(questionID, func(q model.Question, _ model.Answer, _ bool) (model.Answer, error) {
		if q.Type != model.QuestionTypeMCQ {
			return model.Answer{}, fmt.Errorf("%w: %s question takes no single option", ErrInvalidAnswer, q.Type)
		}
		return model.IndexAnswer(index), nil
	})
}

// ToggleOption adds or removes one option of a multi-select question.
func (c *Controller) ToggleOption(questionID string, index int, selected bool) error {
	return c.edit(questionID, func(q model.Question, prev model.Answer, had bool) (model.Answer, error) {
		if q.Type != model.QuestionTypeMulti {
			return model.Answer{}, fmt.Errorf("%w: %s question takes no option set", ErrInvalidAnswer, q.Type)
		}
		var set []int
		if had {
			set, _ = prev.Indices()
		}
		if selected {
			set = append(set, index)
		} else {
			set = slices.DeleteFunc(set, func(i int) bool { return i == index })
		}
		return model.IndexSetAnswer(set), nil
	})
}

// ClearAnswer marks a question unanswered.
func (c *Controller) ClearAnswer(questionID string) error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.def.Question(questionID); !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	delete(c.answers, questionID)
	c.seq++
	c.saveLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// edit applies fn to one question's answer. Answers that do not fit the
// question are rejected without any state change; empty ones remove the key.
func (c *Controller) edit(questionID string, fn func(q model.Question, prev model.Answer, had bool) (model.Answer, error)) error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	q, ok := c.def.Question(questionID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	prev, had := c.answers[questionID]
	next, err := fn(q, prev, had)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if next.Empty() {
		delete(c.answers, questionID)
	} else {
		if err := next.Fits(q); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		c.answers[questionID] = next
	}
	c.seq++
	c.saveLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// GoTo moves the cursor to index.
func (c *Controller) GoTo(index int) error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if index < 0 || index >= len(c.def.Questions) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	c.moveLocked(index)
	return nil
}

// Next advances the cursor. It stays put on the last question.
func (c *Controller) Next() error {
	return c.step(1)
}

// Previous moves the cursor back. It stays put on the first question.
func (c *Controller) Previous() error {
	return c.step(-1)
}

func (c *Controller) step(delta int) error {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.moveLocked(min(max(c.cursor+delta, 0), len(c.def.Questions)-1))
	return nil
}

// moveLocked sets the cursor and releases mu.
func (c *Controller) moveLocked(index int) {
	changed := index != c.cursor
	if changed {
		c.cursor = index
		c.seq++
		c.saveLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}
