// Package round runs one player's timed pass over a battle's questions on the client.
package round

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/domain"
)

type State int

const (
	AwaitingAnswer State = iota
	Locked
	Advancing
	Submitting
	Submitted
	Abandoned
)

func (s State) String() string {
	switch s {
	case AwaitingAnswer:
		return "awaiting-answer"
	case Locked:
		return "locked"
	case Advancing:
		return "advancing"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

var (
	ErrLocked        = errors.New("round: question is locked")
	ErrNotSubmitting = errors.New("round: answers are not ready to submit")
	ErrInFlight      = errors.New("round: submission already in flight")
	ErrAbandoned     = errors.New("round: abandoned")
)

// Budgets are the per-kind answer windows.
type Budgets struct {
	MCQ       time.Duration
	Paragraph time.Duration
}

func DefaultBudgets() Budgets {
	return Budgets{MCQ: 15 * time.Second, Paragraph: 60 * time.Second}
}

// BudgetsFrom converts the seconds served by join; missing values keep the defaults.
func BudgetsFrom(tb *domain.TimeBudgets) Budgets {
	b := DefaultBudgets()
	if tb == nil {
		return b
	}
	if tb.MCQ > 0 {
		b.MCQ = time.Duration(tb.MCQ) * time.Second
	}
	if tb.Paragraph > 0 {
		b.Paragraph = time.Duration(tb.Paragraph) * time.Second
	}
	return b
}

func (b Budgets) For(kind domain.QuestionKind) time.Duration {
	if kind == domain.KindParagraph {
		return b.Paragraph
	}
	return b.MCQ
}

// SubmitFunc performs the evaluate round-trip.
type SubmitFunc func(ctx context.Context, answers []domain.Answer, completionTime float64) error

type Option func(*Collector)

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// Collector records exactly one answer per question. A question locks on Next or when
// its budget runs out, and nothing about it changes afterwards.
type Collector struct {
	mu        sync.Mutex
	questions []domain.PublicQuestion
	budgets   Budgets
	now       func() time.Time

	state    State
	index    int
	selected string
	started  time.Time
	answers  []domain.Answer
	inFlight bool
}

func NewCollector(questions []domain.PublicQuestion, budgets Budgets, opts ...Option) *Collector {
	c := &Collector{
		questions: questions,
		budgets:   budgets,
		now:       time.Now,
		answers:   make([]domain.Answer, 0, len(questions)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	if len(questions) == 0 {
		c.state = Submitting
	}
	return c
}

func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the question being answered and its position.
func (c *Collector) Current() (domain.PublicQuestion, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingAnswer {
		return domain.PublicQuestion{}, c.index, false
	}
	return c.questions[c.index], c.index, true
}

func (c *Collector) Select(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.awaiting(); err != nil {
		return err
	}
	c.selected = value
	return nil
}

// Next locks the current question with the selected value and moves on. With
// nothing selected it records the time-up answer.
func (c *Collector) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.awaiting(); err != nil {
		return err
	}
	if strings.TrimSpace(c.selected) == "" {
		c.lock(app.TimeUpAnswer, true)
		return nil
	}
	c.lock(c.selected, false)
	return nil
}

// Tick locks the current question with the time-up answer once its budget is spent.
// It reports whether a lock happened.
func (c *Collector) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingAnswer || c.remaining() > 0 {
		return false
	}
	c.lock(app.TimeUpAnswer, true)
	return true
}

func (c *Collector) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AwaitingAnswer {
		return 0
	}
	return c.remaining()
}

// Answers returns a copy of the locked answers.
func (c *Collector) Answers() []domain.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Answer(nil), c.answers...)
}

// Submit sends the answers once every question is locked. On failure the collector
// stays in Submitting so the caller can retry.
func (c *Collector) Submit(ctx context.Context, fn SubmitFunc) error {
	c.mu.Lock()
	switch {
	case c.state == Abandoned:
		c.mu.Unlock()
		return ErrAbandoned
	case c.state != Submitting:
		c.mu.Unlock()
		return ErrNotSubmitting
	case c.inFlight:
		c.mu.Unlock()
		return ErrInFlight
	}
	c.inFlight = true
	answers := append([]domain.Answer(nil), c.answers...)
	total := 0.0
	for _, a := range answers {
		total += a.TimeTaken
	}
	c.mu.Unlock()

	err := fn(ctx, answers, round1(total))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		return err
	}
	if c.state == Submitting {
		c.state = Submitted
	}
	return nil
}

// Abandon discards the local answers.
func (c *Collector) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitted {
		return
	}
	c.state = Abandoned
	c.answers = nil
	c.selected = ""
}

func (c *Collector) awaiting() error {
	switch c.state {
	case AwaitingAnswer:
		return nil
	case Abandoned:
		return ErrAbandoned
	default:
		return ErrLocked
	}
}

func (c *Collector) remaining() time.Duration {
	budget := c.budgets.For(c.questions[c.index].Kind)
	left := budget - c.now().Sub(c.started)
	if left < 0 {
		return 0
	}
	return left
}

func (c *Collector) lock(value string, auto bool) {
	c.state = Locked
	q := c.questions[c.index]
	budget := c.budgets.For(q.Kind)
	taken := c.now().Sub(c.started)
	if taken > budget {
		taken = budget
	}
	c.answers = append(c.answers, domain.Answer{
		QuestionID:   q.ID,
		QuestionText: q.Text,
		QuestionType: q.Kind,
		Answer:       value,
		TimeTaken:    round1(taken.Seconds()),
		IsAuto:       auto,
	})
	c.advance()
}

func (c *Collector) advance() {
	c.state = Advancing
	c.selected = ""
	c.index++
	if c.index >= len(c.questions) {
		c.index = len(c.questions)
		c.state = Submitting
		return
	}
	c.started = c.now()
	c.state = AwaitingAnswer
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
