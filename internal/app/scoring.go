package app

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"nova-battle-service/internal/domain"
)

// TimeUpAnswer is recorded when a round runs out before the player answers.
const TimeUpAnswer = "time up / no response"

const (
	feedbackNoResponse = "No response was given for this question."
	feedbackReview     = "The answer does not match the expected guideline and is queued for review."
)

// Score evaluates answers against questions by position. Answer i scores question i;
// missing positions are unanswered and incorrect, surplus answers are ignored.
func Score(questions []domain.Question, answers []domain.Answer, completionTime float64) domain.Analytics {
	analytics := domain.Analytics{
		TotalQuestions: len(questions),
		CompletionTime: completionTime,
		Results:        make([]domain.QuestionResult, 0, len(questions)),
	}

	type bucket struct{ total, correct int }
	tags := make(map[string]*bucket)
	var timeSpent float64
	aligned := 0

	for i, q := range questions {
		var ans domain.Answer
		if i < len(answers) {
			ans = answers[i]
			aligned++
			timeSpent += ans.TimeTaken
			if ans.IsAuto {
				analytics.AutoSubmittedCount++
			}
		}

		result := scoreQuestion(q, ans)
		if result.Correct {
			analytics.CorrectCount++
			analytics.TotalScore += result.Points
		} else {
			analytics.IncorrectCount++
		}
		analytics.Results = append(analytics.Results, result)

		seen := make(map[string]struct{}, len(q.Tags))
		for _, tag := range q.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			b, ok := tags[tag]
			if !ok {
				b = &bucket{}
				tags[tag] = b
			}
			b.total++
			if result.Correct {
				b.correct++
			}
		}
	}

	analytics.Accuracy = percent(analytics.CorrectCount, analytics.TotalQuestions)
	if aligned > 0 {
		analytics.AverageTimeTaken = round1(timeSpent / float64(aligned))
	}

	analytics.TagWisePerformance = make([]domain.TagPerformance, 0, len(tags))
	for tag, b := range tags {
		analytics.TagWisePerformance = append(analytics.TagWisePerformance, domain.TagPerformance{
			Tag:      tag,
			Total:    b.total,
			Correct:  b.correct,
			Accuracy: percent(b.correct, b.total),
		})
	}
	sort.Slice(analytics.TagWisePerformance, func(i, j int) bool {
		return analytics.TagWisePerformance[i].Tag < analytics.TagWisePerformance[j].Tag
	})
	return analytics
}

func scoreQuestion(q domain.Question, ans domain.Answer) domain.QuestionResult {
	result := domain.QuestionResult{
		QuestionID: q.ID,
		Kind:       q.Kind,
		Answer:     ans.Answer,
		TimeTaken:  ans.TimeTaken,
		IsAuto:     ans.IsAuto,
	}
	given := strings.TrimSpace(ans.Answer)
	unanswered := given == "" || (ans.IsAuto && given == TimeUpAnswer)

	switch q.Kind {
	case domain.KindMCQ:
		if q.MCQ != nil && !unanswered && strings.EqualFold(given, strings.TrimSpace(q.MCQ.CorrectAnswer)) {
			result.Correct = true
		}
	case domain.KindParagraph:
		if q.Paragraph == nil {
			break
		}
		if unanswered {
			result.Feedback = feedbackNoResponse
			break
		}
		if containsEither(normalizeText(given), normalizeText(q.Paragraph.Guideline)) {
			result.Correct = true
			break
		}
		result.NeedsReview = true
		result.Feedback = feedbackReview
	}

	if result.Correct {
		result.Points = q.Marks()
	}
	return result
}

func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// normalizeText lower-cases, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return sb.String()
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
