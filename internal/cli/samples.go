package cli

import "nova-battle-service/internal/domain"

func mcq(id, text string, tags []string, answer string, options ...string) domain.Question {
	return domain.Question{
		ID:         id,
		Text:       text,
		Kind:       domain.KindMCQ,
		Difficulty: "easy",
		Tags:       tags,
		Points:     1,
		MCQ:        &domain.MCQ{Options: options, CorrectAnswer: answer},
	}
}

func paragraph(id, text string, tags []string, guideline string) domain.Question {
	return domain.Question{
		ID:         id,
		Text:       text,
		Kind:       domain.KindParagraph,
		Difficulty: "medium",
		Tags:       tags,
		Points:     1,
		Paragraph:  &domain.Paragraph{Guideline: guideline},
	}
}

// sampleQuestions backs the static bank when Postgres is not configured and seeds it when it is.
func sampleQuestions() []domain.Question {
	js := []string{"javascript"}
	gol := []string{"go"}
	web := []string{"javascript", "react"}
	return []domain.Question{
		mcq("js-typeof-null", "What does typeof null return?", js, "object", "null", "object", "undefined", "number"),
		mcq("js-strict-eq", "Which operator compares without type coercion?", js, "===", "==", "===", "=", "!="),
		mcq("js-array-push", "Which method appends to an array?", js, "push", "pop", "shift", "push", "slice"),
		mcq("js-const", "Can a const binding be reassigned?", js, "no", "yes", "no"),
		paragraph("js-closure", "In one phrase, what does a closure capture?", js, "variables from its enclosing scope"),
		paragraph("js-event-loop", "What runs queued callbacks once the call stack is empty?", js, "event loop"),
		mcq("react-hook-state", "Which hook holds local component state?", web, "useState", "useEffect", "useState", "useMemo", "useRef"),
		mcq("react-key", "Which prop helps React track list items?", web, "key", "id", "key", "ref", "name"),

		mcq("go-zero-map", "What is the zero value of a map?", gol, "nil", "nil", "empty map", "0"),
		mcq("go-goroutine", "Which keyword starts a goroutine?", gol, "go", "async", "go", "spawn", "run"),
		mcq("go-defer", "In which order do deferred calls run?", gol, "LIFO", "FIFO", "LIFO", "random"),
		mcq("go-interface", "How does a type implement an interface?", gol, "implicitly", "implements keyword", "implicitly", "extends keyword"),
		paragraph("go-channel", "What do unbuffered channels synchronize?", gol, "sender and receiver"),
		paragraph("go-context", "What does context cancellation propagate?", gol, "a done signal to child contexts"),
	}
}
