package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAnswerJSONKeepsShape(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape AnswerShape
	}{
		{"string digit stays text", `"2"`, ShapeText},
		{"integer stays index", `2`, ShapeIndex},
		{"array is index set", `[3,1,3]`, ShapeIndexSet},
		{"boolean text", `"true"`, ShapeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Answer
			if err := json.Unmarshal([]byte(tt.raw), &a); err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
			}
			if a.Shape() != tt.shape {
				t.Fatalf("shape = %s, want %s", a.Shape(), tt.shape)
			}
		})
	}
}

func TestIndexSetAnswerIsSortedAndUnique(t *testing.T) {
	a := IndexSetAnswer([]int{3, 1, 3, 0})
	out, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "[0,1,3]" {
		t.Fatalf("Marshal = %s, want [0,1,3]", out)
	}
}

func TestAnswerFits(t *testing.T) {
	mcq := Question{ID: "q1", Type: QuestionTypeMCQ, Options: []string{"a", "b", "c"}, Marks: 1}
	multi := Question{ID: "q2", Type: QuestionTypeMulti, Options: []string{"a", "b"}, Marks: 1}
	tf := Question{ID: "q3", Type: QuestionTypeTF, Marks: 1}
	short := Question{ID: "q4", Type: QuestionTypeShort, Marks: 1}

	tests := []struct {
		name    string
		answer  Answer
		q       Question
		wantErr bool
	}{
		{"mcq in range", IndexAnswer(2), mcq, false},
		{"mcq out of range", IndexAnswer(3), mcq, true},
		{"mcq negative", IndexAnswer(-1), mcq, true},
		{"mcq given text", TextAnswer("2"), mcq, true},
		{"multi in range", IndexSetAnswer([]int{0, 1}), multi, false},
		{"multi out of range", IndexSetAnswer([]int{2}), multi, true},
		{"tf true", TextAnswer("true"), tf, false},
		{"tf yes", TextAnswer("yes"), tf, true},
		{"short any text", TextAnswer("anything"), short, false},
		{"short given index", IndexAnswer(0), short, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.answer.Fits(tt.q)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fits() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := TextAnswer("2").Fits(mcq); !errors.Is(err, ErrAnswerShape) {
		t.Fatalf("shape mismatch error = %v, want ErrAnswerShape", err)
	}
}

func TestConformDropsForeignAndMisshapenAnswers(t *testing.T) {
	def := &TestDefinition{
		ID: "t1",
		Questions: []Question{
			{ID: "q1", Type: QuestionTypeMCQ, Options: []string{"a", "b"}, Marks: 1},
			{ID: "q2", Type: QuestionTypeShort, Marks: 1},
		},
	}
	in := AnswerMap{
		"q1":    IndexAnswer(1),
		"q2":    TextAnswer(""),
		"ghost": TextAnswer("boo"),
	}

	out, dropped := in.Conform(def)
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if _, ok := out["q1"]; !ok || len(out) != 1 {
		t.Fatalf("Conform() = %v", out)
	}
}

func TestValidateDefinition(t *testing.T) {
	valid := func() TestDefinition {
		return TestDefinition{
			ID:         "t1",
			DurationMs: 60000,
			Questions: []Question{
				{ID: "q1", Type: QuestionTypeMCQ, Options: []string{"a"}, Marks: 2},
				{ID: "q2", Type: QuestionTypeTF, Marks: 1},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*TestDefinition)
		ok     bool
	}{
		{"valid", func(*TestDefinition) {}, true},
		{"no questions", func(d *TestDefinition) { d.Questions = nil }, false},
		{"mcq without options", func(d *TestDefinition) { d.Questions[0].Options = nil }, false},
		{"zero marks", func(d *TestDefinition) { d.Questions[1].Marks = 0 }, false},
		{"unknown type", func(d *TestDefinition) { d.Questions[1].Type = "essay" }, false},
		{"duplicate id", func(d *TestDefinition) { d.Questions[1].ID = "q1" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			if err := d.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	d := valid()
	if d.TotalMarks() != 3 {
		t.Fatalf("TotalMarks() = %d, want 3", d.TotalMarks())
	}
}
