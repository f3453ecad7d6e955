package app_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/domain"
	"nova-battle-service/internal/infra/memory"
	infraredis "nova-battle-service/internal/infra/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

var codePattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{6}$`)

func TestCreateIssuesUniqueCodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		b, err := env.service.Create(ctx, "alice", "JS Clash", []string{"javascript"})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if !codePattern.MatchString(b.Code) {
			t.Fatalf("code %q does not match format", b.Code)
		}
		if seen[b.Code] {
			t.Fatalf("duplicate code %q", b.Code)
		}
		seen[b.Code] = true
		if b.Status != domain.StatusWaiting || b.QuestionCount != 3 {
			t.Fatalf("unexpected battle view: %+v", b)
		}
	}
}

func TestCreateRetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	env := newTestEnv(app.WithCodeGenerator(gen))

	first, err := env.service.Create(ctx, "alice", "One", []string{"javascript"})
	if err != nil || first.Code != "AAAAAA" {
		t.Fatalf("first create: %+v err=%v", first, err)
	}
	second, err := env.service.Create(ctx, "alice", "Two", []string{"javascript"})
	if err != nil || second.Code != "BBBBBB" {
		t.Fatalf("expected retry to BBBBBB, got %+v err=%v", second, err)
	}
}

func TestCreateGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(
		app.WithCodeGenerator(func() (string, error) { return "AAAAAA", nil }),
		app.WithSettings(app.Settings{QuestionCount: 3, CodeAttempts: 2}),
	)
	if _, err := env.service.Create(ctx, "alice", "One", []string{"javascript"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := env.service.Create(ctx, "alice", "Two", []string{"javascript"})
	if !errors.Is(err, domain.ErrBattleCodeTaken) {
		t.Fatalf("expected code exhaustion, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	if _, err := env.service.Create(ctx, "alice", "  ", []string{"javascript"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for name, got %v", err)
	}
	if _, err := env.service.Create(ctx, "alice", "JS", []string{" ", ""}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for tags, got %v", err)
	}
	if _, err := env.service.Create(ctx, "alice", "Go", []string{"go"}); !errors.Is(err, domain.ErrQuestionPoolExhausted) {
		t.Fatalf("expected pool exhausted, got %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)

	first, err := env.service.Join(ctx, b.Code, "alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := env.service.Join(ctx, " "+strings.ToLower(b.Code)+" ", "alice")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(first.Players) != 1 || len(second.Players) != 1 {
		t.Fatalf("expected one player entry, got %d and %d", len(first.Players), len(second.Players))
	}
	if len(second.Questions) != 3 || second.TimeBudgets == nil || second.TimeBudgets.MCQ != 15 {
		t.Fatalf("snapshot missing round data: %+v", second)
	}
	for _, q := range second.Questions {
		if q.Kind == domain.KindMCQ && len(q.Options) == 0 {
			t.Fatalf("mcq without options in snapshot: %+v", q)
		}
	}
}

func TestJoinRejectsUnknownAndClosedBattles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	if _, err := env.service.Join(ctx, "ZZZZZZ", "alice"); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	b := env.create(t)
	_, _ = env.service.Join(ctx, b.Code, "alice")
	if _, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "alice", Finish: true}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := env.service.Join(ctx, b.Code, "bob"); !errors.Is(err, domain.ErrAlreadyFinished) {
		t.Fatalf("expected already finished, got %v", err)
	}
}

func TestJoinExpiresBattleLazily(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)

	env.advance(25 * time.Hour)
	if _, err := env.service.Join(ctx, b.Code, "alice"); !errors.Is(err, domain.ErrBattleExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	stored, _ := env.battles.GetByID(ctx, b.ID)
	if stored.Status != domain.StatusExpired {
		t.Fatalf("expected stored status expired, got %s", stored.Status)
	}
	if _, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "alice"}); !errors.Is(err, domain.ErrBattleExpired) {
		t.Fatalf("expected evaluate to be rejected, got %v", err)
	}
}

func TestConcurrentJoinsForDifferentUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.service.Join(ctx, b.Code, fmt.Sprintf("user-%d", i)); err != nil {
				t.Errorf("join %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	analysis, err := env.service.Analysis(ctx, b.ID)
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if analysis.Performance.TotalPlayers != 10 {
		t.Fatalf("expected 10 players, got %d", analysis.Performance.TotalPlayers)
	}
}

func TestConcurrentEvaluatesKeepEveryEntry(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		checkConcurrentEvaluates(t, memory.NewBattleStore(), memory.NewUserStore())
	})
	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		checkConcurrentEvaluates(t, infraredis.NewBattleStore(client), infraredis.NewUserStore(client))
	})
}

func checkConcurrentEvaluates(t *testing.T, battles app.BattleStore, users app.UserStore) {
	t.Helper()
	ctx := context.Background()
	bank := memory.NewQuestionCache(memory.NewStaticQuestionLoader(testQuestions()), time.Minute)
	service := app.NewBattleService(battles, users, bank,
		app.WithRand(rand.New(rand.NewSource(1))),
		app.WithSettings(app.Settings{QuestionCount: 3}),
	)
	b, err := service.Create(ctx, "alice", "JS Clash", []string{"javascript"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const players = 8
	for i := 0; i < players; i++ {
		if _, err := service.Join(ctx, b.Code, fmt.Sprintf("user-%d", i)); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	stored, err := battles.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("load battle: %v", err)
	}

	// user-i answers the first i%4 questions correctly.
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers := answersFor(stored.Questions, func(q int) bool { return q < i%4 })
			_, err := service.Evaluate(ctx, app.Submission{
				BattleID:       b.ID,
				Username:       fmt.Sprintf("user-%d", i),
				Answers:        answers,
				CompletionTime: 15,
			})
			if err != nil {
				t.Errorf("evaluate %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	final, err := battles.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("reload battle: %v", err)
	}
	if len(final.Players) != players {
		t.Fatalf("expected %d player entries, got %d", players, len(final.Players))
	}
	for i := 0; i < players; i++ {
		name := fmt.Sprintf("user-%d", i)
		p, ok := final.Player(name)
		if !ok {
			t.Fatalf("%s lost its entry", name)
		}
		if !p.Submitted || p.Score != i%4 || p.CorrectCount != i%4 {
			t.Fatalf("%s entry overwritten: %+v", name, p)
		}
	}
	if final.Status != domain.StatusFinished {
		t.Fatalf("expected finished once everyone submitted, got %s", final.Status)
	}
}

func TestJSClashScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)

	if _, err := env.service.Join(ctx, b.Code, "alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	snap, err := env.service.Join(ctx, b.Code, "bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}

	questions := env.questionsFor(t, b.ID)
	aliceAnswers := answersFor(questions, func(i int) bool { return i != 1 })
	bobAnswers := answersFor(questions, func(i int) bool { return i == 1 })

	res, err := env.service.Evaluate(ctx, app.Submission{BattleID: snap.ID, Username: "alice", Answers: aliceAnswers, CompletionTime: 30})
	if err != nil {
		t.Fatalf("evaluate alice: %v", err)
	}
	if res.Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress after first submission, got %s", res.Status)
	}
	if res.Analytics.CorrectCount+res.Analytics.IncorrectCount != res.Analytics.TotalQuestions {
		t.Fatalf("counts do not add up: %+v", res.Analytics)
	}

	env.advance(time.Second)
	res, err = env.service.Evaluate(ctx, app.Submission{BattleID: snap.ID, Username: "bob", Answers: bobAnswers, CompletionTime: 40})
	if err != nil {
		t.Fatalf("evaluate bob: %v", err)
	}
	if res.Status != domain.StatusFinished {
		t.Fatalf("expected finished once both submitted, got %s", res.Status)
	}

	analysis, err := env.service.Analysis(ctx, b.ID)
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if analysis.Performance.TotalPlayers != 2 {
		t.Fatalf("expected 2 players, got %d", analysis.Performance.TotalPlayers)
	}
	if analysis.Leaderboard[0].Username != "alice" || analysis.Leaderboard[0].Rank != 1 {
		t.Fatalf("expected alice to lead, got %+v", analysis.Leaderboard)
	}

	again, _ := env.service.Analysis(ctx, b.ID)
	for i := range again.Leaderboard {
		if again.Leaderboard[i].Username != analysis.Leaderboard[i].Username {
			t.Fatalf("leaderboard not stable across calls")
		}
	}

	profile, err := env.service.History(ctx, "alice", 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(profile.Battles) != 1 || profile.Battles[0].BattleID != b.ID || profile.Stats.BattlesPlayed != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestAllCorrectMCQGivesFullAccuracy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b, err := env.service.Create(ctx, "alice", "MCQ only", []string{"mcq-only"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = env.service.Join(ctx, b.Code, "alice")

	questions := env.questionsFor(t, b.ID)
	answers := answersFor(questions, func(int) bool { return true })
	for i := range answers {
		answers[i].Answer = "  " + strings.ToUpper(answers[i].Answer) + " "
	}
	res, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "alice", Answers: answers})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Analytics.Accuracy != 100 {
		t.Fatalf("expected 100 accuracy, got %v", res.Analytics.Accuracy)
	}
}

func TestShortAnswerSetIsScored(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)
	questions := env.questionsFor(t, b.ID)

	answers := answersFor(questions, func(int) bool { return true })[:1]
	res, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "carol", Answers: answers})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Analytics.CorrectCount != 1 || res.Analytics.IncorrectCount != 2 {
		t.Fatalf("expected missing positions to count as incorrect, got %+v", res.Analytics)
	}
	if res.Analytics.Accuracy != 33.3 {
		t.Fatalf("expected 33.3 accuracy, got %v", res.Analytics.Accuracy)
	}
	if len(res.Players) != 1 {
		t.Fatalf("expected evaluate to add the player entry, got %+v", res.Players)
	}
}

func TestReEvaluationOverwrites(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	b := env.create(t)
	_, _ = env.service.Join(ctx, b.Code, "alice")
	_, _ = env.service.Join(ctx, b.Code, "bob")
	questions := env.questionsFor(t, b.ID)

	_, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "alice", Answers: answersFor(questions, func(int) bool { return false })})
	if err != nil {
		t.Fatalf("evaluate 1: %v", err)
	}
	res, err := env.service.Evaluate(ctx, app.Submission{BattleID: b.ID, Username: "alice", Answers: answersFor(questions, func(int) bool { return true })})
	if err != nil {
		t.Fatalf("evaluate 2: %v", err)
	}
	if len(res.Players) != 2 {
		t.Fatalf("expected two entries after re-evaluation, got %d", len(res.Players))
	}
	if res.UserPerformance.CorrectCount != 3 {
		t.Fatalf("expected overwrite with 3 correct, got %+v", res.UserPerformance)
	}

	stats, _ := env.users.Stats(ctx, "alice")
	if stats.BattlesPlayed != 1 || stats.XP != 30 {
		t.Fatalf("expected XP to track the latest submission only, got %+v", stats)
	}
	history, _ := env.users.History(ctx, "alice", 10, 0)
	if len(history) != 1 || history[0].CorrectCount != 3 {
		t.Fatalf("expected one replaced history entry, got %+v", history)
	}
}

func TestEvaluateValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	if _, err := env.service.Evaluate(ctx, app.Submission{Username: "alice"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.service.Evaluate(ctx, app.Submission{BattleID: "missing", Username: "alice"}); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	b := env.create(t)
	_, err := env.service.Evaluate(ctx, app.Submission{
		BattleID: b.ID, Username: "alice",
		Answers: []domain.Answer{{QuestionID: "x", TimeTaken: -1}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected negative time rejected, got %v", err)
	}
}

func TestListRecentMarksDueBattlesExpired(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	old := env.create(t)
	env.advance(23 * time.Hour)
	fresh := env.create(t)
	env.advance(2 * time.Hour)

	list, err := env.service.ListRecent(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != fresh.ID || list[1].ID != old.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[1].Status != domain.StatusExpired || list[0].Status != domain.StatusWaiting {
		t.Fatalf("unexpected statuses: %s %s", list[0].Status, list[1].Status)
	}
	if len(list[0].Questions) != 0 {
		t.Fatalf("list must not carry questions")
	}
}

func TestHistoryPaging(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	if _, err := env.service.History(ctx, "alice", -1, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	empty, err := env.service.History(ctx, "nobody", 0, 0)
	if err != nil || len(empty.Battles) != 0 {
		t.Fatalf("expected empty history, got %+v err=%v", empty, err)
	}
}

type testEnv struct {
	service *app.BattleService
	battles *memory.BattleStore
	users   *memory.UserStore
	mu      sync.Mutex
	now     time.Time
}

func newTestEnv(opts ...app.Option) *testEnv {
	env := &testEnv{
		battles: memory.NewBattleStore(),
		users:   memory.NewUserStore(),
		now:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	bank := memory.NewQuestionCache(memory.NewStaticQuestionLoader(testQuestions()), time.Minute)
	base := []app.Option{
		app.WithClock(env.clock),
		app.WithRand(rand.New(rand.NewSource(1))),
		app.WithSettings(app.Settings{QuestionCount: 3}),
	}
	env.service = app.NewBattleService(env.battles, env.users, bank, append(base, opts...)...)
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

func (e *testEnv) create(t *testing.T) domain.PublicBattle {
	t.Helper()
	b, err := e.service.Create(context.Background(), "alice", "JS Clash", []string{"javascript"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

// questionsFor reads the stored questions, answer keys included.
func (e *testEnv) questionsFor(t *testing.T, battleID string) []domain.Question {
	t.Helper()
	b, err := e.battles.GetByID(context.Background(), battleID)
	if err != nil {
		t.Fatalf("load battle: %v", err)
	}
	return b.Questions
}

func answersFor(questions []domain.Question, correct func(i int) bool) []domain.Answer {
	answers := make([]domain.Answer, len(questions))
	for i, q := range questions {
		a := domain.Answer{QuestionID: q.ID, QuestionType: q.Kind, TimeTaken: 5}
		switch {
		case correct(i) && q.MCQ != nil:
			a.Answer = q.MCQ.CorrectAnswer
		case correct(i) && q.Paragraph != nil:
			a.Answer = q.Paragraph.Guideline
		default:
			a.Answer = "definitely wrong"
		}
		answers[i] = a
	}
	return answers
}

func testQuestions() []domain.Question {
	return []domain.Question{
		{ID: "js1", Text: "Block scoped keyword?", Kind: domain.KindMCQ, Tags: []string{"javascript"},
			MCQ: &domain.MCQ{Options: []string{"var", "let"}, CorrectAnswer: "let"}},
		{ID: "js2", Text: "typeof null?", Kind: domain.KindMCQ, Tags: []string{"javascript"},
			MCQ: &domain.MCQ{Options: []string{"object", "null"}, CorrectAnswer: "object"}},
		{ID: "js3", Text: "Explain closures.", Kind: domain.KindParagraph, Tags: []string{"javascript"},
			Paragraph: &domain.Paragraph{Guideline: "A function bundled with its lexical environment"}},
		{ID: "m1", Text: "2 + 2?", Kind: domain.KindMCQ, Tags: []string{"mcq-only"},
			MCQ: &domain.MCQ{Options: []string{"3", "4"}, CorrectAnswer: "4"}},
		{ID: "m2", Text: "Capital of France?", Kind: domain.KindMCQ, Tags: []string{"mcq-only"},
			MCQ: &domain.MCQ{Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"}},
		{ID: "m3", Text: "Largest planet?", Kind: domain.KindMCQ, Tags: []string{"mcq-only"},
			MCQ: &domain.MCQ{Options: []string{"Jupiter", "Mars"}, CorrectAnswer: "Jupiter"}},
		{ID: "g1", Text: "Zero value of int?", Kind: domain.KindMCQ, Tags: []string{"go"},
			MCQ: &domain.MCQ{Options: []string{"0", "nil"}, CorrectAnswer: "0"}},
	}
}
