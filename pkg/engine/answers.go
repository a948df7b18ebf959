package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AnswerKind is the tag of an AnswerValue.
type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerBoolean AnswerKind = "boolean"
	AnswerNumber  AnswerKind = "number"
	AnswerSelect  AnswerKind = "select"
)

// AnswerValue is a tagged union over the closed set of answer kinds.
// Only the payload field matching Kind is meaningful.
//
// On the wire an AnswerValue is a bare JSON scalar. Text and select share the
// string form; a string is promoted to select when it is checked against a
// select question. A nil *AnswerValue is an explicit skip.
type AnswerValue struct {
	Kind   AnswerKind
	Text   string
	Bool   bool
	Number float64
}

// TextAnswer returns a text answer.
func TextAnswer(s string) *AnswerValue { return &AnswerValue{Kind: AnswerText, Text: s} }

// BoolAnswer returns a boolean answer.
func BoolAnswer(b bool) *AnswerValue { return &AnswerValue{Kind: AnswerBoolean, Bool: b} }

// NumberAnswer returns a numeric answer.
func NumberAnswer(n float64) *AnswerValue { return &AnswerValue{Kind: AnswerNumber, Number: n} }

// SelectAnswer returns an answer choosing one of a question's options.
func SelectAnswer(option string) *AnswerValue {
	return &AnswerValue{Kind: AnswerSelect, Text: option}
}

// String renders the answer payload.
func (v *AnswerValue) String() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case AnswerBoolean:
		return strconv.FormatBool(v.Bool)
	case AnswerNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

// Interface returns the payload as a plain Go value (string, bool or float64).
func (v *AnswerValue) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case AnswerBoolean:
		return v.Bool
	case AnswerNumber:
		return v.Number
	default:
		return v.Text
	}
}

// Equal reports whether two answers carry the same payload.
// Text and select values compare by their string.
func (v *AnswerValue) Equal(o *AnswerValue) bool {
	if v == nil || o == nil {
		return v == o
	}
	vs := v.Kind == AnswerText || v.Kind == AnswerSelect
	os := o.Kind == AnswerText || o.Kind == AnswerSelect
	if vs || os {
		return vs && os && v.Text == o.Text
	}
	return v.Kind == o.Kind && v.Bool == o.Bool && v.Number == o.Number
}

// MarshalJSON encodes the payload as a bare JSON scalar.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AnswerBoolean:
		return json.Marshal(v.Bool)
	case AnswerNumber:
		return json.Marshal(v.Number)
	case AnswerText, AnswerSelect:
		return json.Marshal(v.Text)
	default:
		return nil, fmt.Errorf("invalid answer kind: %q", string(v.Kind))
	}
}

// UnmarshalJSON decodes a bare JSON scalar into the matching kind.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := AnswerFromInterface(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("answer must not be null here")
	}
	*v = *parsed
	return nil
}

// MarshalYAML encodes the payload as a YAML scalar.
func (v AnswerValue) MarshalYAML() (interface{}, error) {
	return v.Interface(), nil
}

// UnmarshalYAML decodes a YAML scalar into the matching kind.
func (v *AnswerValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := AnswerFromInterface(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("answer must not be null here")
	}
	*v = *parsed
	return nil
}

// AnswerFromInterface converts a decoded JSON or YAML scalar into an answer.
// nil maps to a nil answer (explicit skip).
func AnswerFromInterface(raw interface{}) (*AnswerValue, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return TextAnswer(val), nil
	case bool:
		return BoolAnswer(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid numeric answer %q: %w", val.String(), err)
		}
		return finiteNumber("", f)
	case float64:
		return finiteNumber("", val)
	case float32:
		return finiteNumber("", float64(val))
	case int:
		return NumberAnswer(float64(val)), nil
	case int64:
		return NumberAnswer(float64(val)), nil
	case uint64:
		return NumberAnswer(float64(val)), nil
	default:
		return nil, fmt.Errorf("answer must be a string, boolean, number or null, got %T", raw)
	}
}

// Answers maps question ids to answers for one stage.
// A key mapped to nil is explicitly skipped; an absent key is unanswered.
type Answers map[string]*AnswerValue

// Clone returns a deep copy of the answers.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for id, v := range a {
		if v == nil {
			out[id] = nil
			continue
		}
		c := *v
		out[id] = &c
	}
	return out
}

// Answered reports whether id has a non-null answer.
func (a Answers) Answered(id string) bool {
	v, ok := a[id]
	return ok && v != nil
}

// Equal reports whether both maps hold the same keys and payloads.
func (a Answers) Equal(o Answers) bool {
	if len(a) != len(o) {
		return false
	}
	for id, v := range a {
		ov, ok := o[id]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// NormalizeAnswers checks every answer against its question and returns a
// normalized copy. Answers for unknown question ids are kept as free-form.
// String answers to boolean or number questions are coerced when they parse;
// string answers to select questions become select answers.
func NormalizeAnswers(questions []Question, answers Answers) (Answers, error) {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	out := make(Answers, len(answers))
	for id, v := range answers {
		if strings.TrimSpace(id) == "" {
			return nil, &AnswerTypeError{QuestionID: id, Reason: "question id must not be empty"}
		}
		if v != nil && v.Kind == AnswerNumber {
			if _, err := finiteNumber(id, v.Number); err != nil {
				return nil, err
			}
		}
		q, known := byID[id]
		if v == nil || !known {
			out[id] = cloneAnswer(v)
			continue
		}
		n, err := normalizeAnswer(q, v)
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}

func normalizeAnswer(q Question, v *AnswerValue) (*AnswerValue, error) {
	mismatch := &AnswerTypeError{QuestionID: q.ID, Expected: q.Type, Got: v.Kind}

	switch q.Type {
	case QuestionText:
		if v.Kind == AnswerText || v.Kind == AnswerSelect {
			return TextAnswer(v.Text), nil
		}
		return nil, mismatch

	case QuestionBoolean:
		switch v.Kind {
		case AnswerBoolean:
			return BoolAnswer(v.Bool), nil
		case AnswerText:
			b, err := strconv.ParseBool(strings.TrimSpace(v.Text))
			if err != nil {
				mismatch.Reason = fmt.Sprintf("%q is not a boolean", v.Text)
				return nil, mismatch
			}
			return BoolAnswer(b), nil
		}
		return nil, mismatch

	case QuestionNumber:
		switch v.Kind {
		case AnswerNumber:
			return NumberAnswer(v.Number), nil
		case AnswerText:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
			if err != nil {
				mismatch.Reason = fmt.Sprintf("%q is not a number", v.Text)
				return nil, mismatch
			}
			return finiteNumber(q.ID, f)
		}
		return nil, mismatch

	case QuestionSelect:
		if v.Kind != AnswerText && v.Kind != AnswerSelect {
			return nil, mismatch
		}
		for _, opt := range q.Options {
			if opt == v.Text {
				return SelectAnswer(v.Text), nil
			}
		}
		mismatch.Reason = fmt.Sprintf("%q is not one of [%s]", v.Text, strings.Join(q.Options, ", "))
		return nil, mismatch

	default:
		mismatch.Reason = "unknown question type " + string(q.Type)
		return nil, mismatch
	}
}

// finiteNumber rejects NaN and the infinities, which no store can encode.
func finiteNumber(id string, f float64) (*AnswerValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &AnswerTypeError{
			QuestionID: id,
			Expected:   QuestionNumber,
			Got:        AnswerNumber,
			Reason:     fmt.Sprintf("%v is not a finite number", f),
		}
	}
	return NumberAnswer(f), nil
}

func cloneAnswer(v *AnswerValue) *AnswerValue {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
