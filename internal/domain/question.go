package domain

import (
	"fmt"
	"strings"
)

// QuestionKind discriminates the question variants.
type QuestionKind string

const (
	KindMCQ       QuestionKind = "mcq"
	KindParagraph QuestionKind = "paragraph"
)

// MCQ is the single-choice variant.
type MCQ struct {
	Options       []string `json:"options" bson:"options"`
	CorrectAnswer string   `json:"correctAnswer" bson:"correctAnswer"`
}

// Paragraph is the open-response variant.
type Paragraph struct {
	Guideline string `json:"guideline" bson:"guideline"`
}

// Question is a battle question. Exactly one of MCQ or Paragraph is set, matching Kind.
type Question struct {
	ID         string       `json:"id" bson:"id"`
	Text       string       `json:"text" bson:"text"`
	Kind       QuestionKind `json:"type" bson:"type"`
	Difficulty string       `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	Tags       []string     `json:"tags" bson:"tags"`
	Points     int          `json:"points,omitempty" bson:"points,omitempty"` // defaults to 1 if zero
	MCQ        *MCQ         `json:"mcq,omitempty" bson:"mcq,omitempty"`
	Paragraph  *Paragraph   `json:"paragraph,omitempty" bson:"paragraph,omitempty"`
}

// Marks returns the points awarded for a correct answer.
func (q Question) Marks() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// HasTag reports whether the question carries any of tags (case-insensitive).
func (q Question) HasTag(tags ...string) bool {
	for _, t := range q.Tags {
		for _, want := range tags {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

// Validate checks that the variant matches the declared kind.
func (q Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: question id is required", ErrValidation)
	}
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question %s has no text", ErrValidation, q.ID)
	}
	switch q.Kind {
	case KindMCQ:
		if q.MCQ == nil || q.Paragraph != nil {
			return fmt.Errorf("%w: question %s must carry only mcq fields", ErrValidation, q.ID)
		}
		if len(q.MCQ.Options) < 2 {
			return fmt.Errorf("%w: question %s needs at least two options", ErrValidation, q.ID)
		}
		for _, opt := range q.MCQ.Options {
			if strings.EqualFold(strings.TrimSpace(opt), strings.TrimSpace(q.MCQ.CorrectAnswer)) {
				return nil
			}
		}
		return fmt.Errorf("%w: question %s correct answer is not an option", ErrValidation, q.ID)
	case KindParagraph:
		if q.Paragraph == nil || q.MCQ != nil {
			return fmt.Errorf("%w: question %s must carry only paragraph fields", ErrValidation, q.ID)
		}
		if strings.TrimSpace(q.Paragraph.Guideline) == "" {
			return fmt.Errorf("%w: question %s has an empty guideline", ErrValidation, q.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: question %s has unknown type %q", ErrValidation, q.ID, q.Kind)
	}
}

// PublicQuestion is what a participant sees during a round.
type PublicQuestion struct {
	ID         string       `json:"id"`
	Text       string       `json:"text"`
	Kind       QuestionKind `json:"type"`
	Difficulty string       `json:"difficulty,omitempty"`
	Tags       []string     `json:"tags"`
	Options    []string     `json:"options,omitempty"`
	Points     int          `json:"points"`
}

// Public strips the answer key.
func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Kind:       q.Kind,
		Difficulty: q.Difficulty,
		Tags:       q.Tags,
		Points:     q.Marks(),
	}
	if q.MCQ != nil {
		pq.Options = q.MCQ.Options
	}
	return pq
}
