package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// AnswerShape is the wire shape of an answer value.
type AnswerShape int

const (
	ShapeText AnswerShape = iota + 1
	ShapeIndex
	ShapeIndexSet
)

func (s AnswerShape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeIndex:
		return "index"
	case ShapeIndexSet:
		return "index set"
	}
	return "unknown"
}

// ShapeFor returns the answer shape a question type accepts.
func ShapeFor(t QuestionType) AnswerShape {
	switch t {
	case QuestionTypeMCQ:
		return ShapeIndex
	case QuestionTypeMulti:
		return ShapeIndexSet
	default:
		return ShapeText
	}
}

// Answer is a tagged answer value. It encodes to a JSON string (short, tf),
// an integer (mcq) or an array of integers (multi).
type Answer struct {
	shape   AnswerShape
	text    string
	index   int
	indices []int
}

func TextAnswer(s string) Answer {
	return Answer{shape: ShapeText, text: s}
}

func IndexAnswer(i int) Answer {
	return Answer{shape: ShapeIndex, index: i}
}

// IndexSetAnswer normalizes the indices into a sorted set.
func IndexSetAnswer(indices []int) Answer {
	set := slices.Clone(indices)
	slices.Sort(set)
	return Answer{shape: ShapeIndexSet, indices: slices.Compact(set)}
}

func (a Answer) Shape() AnswerShape { return a.shape }

func (a Answer) Text() (string, bool) {
	return a.text, a.shape == ShapeText
}

func (a Answer) Index() (int, bool) {
	return a.index, a.shape == ShapeIndex
}

func (a Answer) Indices() ([]int, bool) {
	return slices.Clone(a.indices), a.shape == ShapeIndexSet
}

// Empty reports whether the answer carries no response.
func (a Answer) Empty() bool {
	switch a.shape {
	case ShapeText:
		return a.text == ""
	case ShapeIndexSet:
		return len(a.indices) == 0
	case ShapeIndex:
		return false
	}
	return true
}

var ErrAnswerShape = errors.New("answer shape does not match question type")

// Fits checks the answer against a question without any coercion.
func (a Answer) Fits(q Question) error {
	if a.shape != ShapeFor(q.Type) {
		return fmt.Errorf("%w: %s question got %s", ErrAnswerShape, q.Type, a.shape)
	}
	switch q.Type {
	case QuestionTypeTF:
		if a.text != "true" && a.text != "false" {
			return fmt.Errorf("true/false answer must be \"true\" or \"false\", got %q", a.text)
		}
	case QuestionTypeMCQ:
		if a.index < 0 || a.index >= len(q.Options) {
			return fmt.Errorf("option %d out of range [0, %d)", a.index, len(q.Options))
		}
	case QuestionTypeMulti:
		for _, i := range a.indices {
			if i < 0 || i >= len(q.Options) {
				return fmt.Errorf("option %d out of range [0, %d)", i, len(q.Options))
			}
		}
	}
	return nil
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.shape {
	case ShapeText:
		return json.Marshal(a.text)
	case ShapeIndex:
		return json.Marshal(a.index)
	case ShapeIndexSet:
		if a.indices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.indices)
	}
	return nil, errors.New("marshal answer: unset shape")
}

// UnmarshalJSON infers the shape from the JSON token. "2" stays text and 2
// stays an index.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("unmarshal answer: empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	case '[':
		var ix []int
		if err := json.Unmarshal(data, &ix); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}
		*a = IndexSetAnswer(ix)
	default:
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}
		*a = IndexAnswer(i)
	}
	return nil
}

// AnswerMap maps question ids to answers.
type AnswerMap map[string]Answer

// Clone returns an independent copy.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		v.indices = slices.Clone(v.indices)
		out[k] = v
	}
	return out
}

// Conform keeps only the answers that belong to a question of def and fit it.
// It returns the number of dropped entries.
func (m AnswerMap) Conform(def *TestDefinition) (AnswerMap, int) {
	out := make(AnswerMap, len(m))
	for id, a := range m {
		q, ok := def.Question(id)
		if !ok || a.Empty() || a.Fits(q) != nil {
			continue
		}
		out[id] = a
	}
	return out, len(m) - len(out)
}
