package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nova-battle-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Settings are the tunables of the battle lifecycle.
type Settings struct {
	QuestionCount   int
	CodeAttempts    int
	ExpireAfter     time.Duration
	RecentLimit     int
	HistoryCap      int
	HistoryPageSize int
	MCQBudget       time.Duration
	ParagraphBudget time.Duration
}

// DefaultSettings mirrors the defaults of the config layer.
func DefaultSettings() Settings {
	return Settings{
		QuestionCount:   5,
		CodeAttempts:    5,
		ExpireAfter:     24 * time.Hour,
		RecentLimit:     50,
		HistoryCap:      100,
		HistoryPageSize: 20,
		MCQBudget:       15 * time.Second,
		ParagraphBudget: 60 * time.Second,
	}
}

// Option configures a BattleService.
type Option func(*BattleService)

// WithSettings overrides the lifecycle settings. Zero fields keep their defaults.
func WithSettings(st Settings) Option {
	return func(s *BattleService) {
		def := s.settings
		if st.QuestionCount <= 0 {
			st.QuestionCount = def.QuestionCount
		}
		if st.CodeAttempts <= 0 {
			st.CodeAttempts = def.CodeAttempts
		}
		if st.ExpireAfter <= 0 {
			st.ExpireAfter = def.ExpireAfter
		}
		if st.RecentLimit <= 0 {
			st.RecentLimit = def.RecentLimit
		}
		if st.HistoryCap <= 0 {
			st.HistoryCap = def.HistoryCap
		}
		if st.HistoryPageSize <= 0 {
			st.HistoryPageSize = def.HistoryPageSize
		}
		if st.MCQBudget <= 0 {
			st.MCQBudget = def.MCQBudget
		}
		if st.ParagraphBudget <= 0 {
			st.ParagraphBudget = def.ParagraphBudget
		}
		s.settings = st
	}
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *BattleService) { s.now = now }
}

// WithRand sets the source used to pick question subsets.
func WithRand(rnd *rand.Rand) Option {
	return func(s *BattleService) { s.rnd = rnd }
}

// WithCodeGenerator replaces the join code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *BattleService) { s.newCode = gen }
}

// WithIDGenerator replaces the battle id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *BattleService) { s.newID = gen }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *BattleService) { s.log = logger }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *BattleService) { s.events = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *BattleService) { s.metrics = r }
}

// BattleService contains the battle duel use cases.
type BattleService struct {
	battles BattleStore
	users   UserStore
	bank    QuestionBank

	settings Settings
	now      func() time.Time
	newCode  func() (string, error)
	newID    func() string
	log      *zap.Logger
	events   EventPublisher
	metrics  Recorder

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBattleService(battles BattleStore, users UserStore, bank QuestionBank, opts ...Option) *BattleService {
	s := &BattleService{
		battles:  battles,
		users:    users,
		bank:     bank,
		settings: DefaultSettings(),
		now:      time.Now,
		newCode:  NewBattleCode,
		newID:    uuid.NewString,
		log:      zap.NewNop(),
		events:   nopPublisher{},
		metrics:  nopRecorder{},
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the effective lifecycle settings.
func (s *BattleService) Settings() Settings {
	return s.settings
}

// Create builds a battle from the tag-matching question pool and persists it as waiting.
func (s *BattleService) Create(ctx context.Context, createdBy, name string, tags []string) (domain.PublicBattle, error) {
	name = strings.TrimSpace(name)
	tags = NormalizeTags(tags)
	if name == "" {
		return domain.PublicBattle{}, s.reject("create", fmt.Errorf("%w: battle name is required", domain.ErrValidation))
	}
	if len(tags) == 0 {
		return domain.PublicBattle{}, s.reject("create", fmt.Errorf("%w: at least one tag is required", domain.ErrValidation))
	}

	pool, err := s.bank.Questions(ctx, tags)
	if err != nil {
		return domain.PublicBattle{}, fmt.Errorf("load question pool: %w", err)
	}
	need := s.settings.QuestionCount
	if len(pool) < need {
		return domain.PublicBattle{}, s.reject("create", fmt.Errorf("%w: %d of %d questions match %v",
			domain.ErrQuestionPoolExhausted, len(pool), need, tags))
	}

	now := s.now().UTC()
	end := now.Add(s.settings.ExpireAfter)
	battle := domain.Battle{
		ID:        s.newID(),
		Name:      name,
		Tags:      tags,
		Questions: s.pick(pool, need),
		Players:   []domain.Player{},
		Status:    domain.StatusWaiting,
		CreatedBy: createdBy,
		CreatedAt: now,
		StartTime: &now,
		EndTime:   &end,
	}

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.PublicBattle{}, err
		}
		battle.Code = code
		err = s.battles.Create(ctx, battle)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrBattleCodeTaken) {
			return domain.PublicBattle{}, fmt.Errorf("create battle: %w", err)
		}
		if attempt >= s.settings.CodeAttempts {
			return domain.PublicBattle{}, fmt.Errorf("allocate battle code after %d attempts: %w", attempt, err)
		}
		s.log.Debug("battle code collision", zap.String("code", code), zap.Int("attempt", attempt))
	}

	s.log.Info("battle created",
		zap.String("battle_id", battle.ID),
		zap.String("code", battle.Code),
		zap.Strings("tags", tags),
		zap.String("created_by", createdBy),
	)
	s.metrics.BattleCreated()
	s.publish(ctx, domain.BattleEvent{
		Type:       domain.EventBattleCreated,
		BattleID:   battle.ID,
		BattleCode: battle.Code,
		Username:   createdBy,
		Status:     battle.Status,
		OccurredAt: now,
	})

	view := battle.Public(false)
	view.TimeBudgets = s.budgets()
	return view, nil
}

// Join admits username into the battle behind code. Re-joining returns the same snapshot.
func (s *BattleService) Join(ctx context.Context, code, username string) (domain.PublicBattle, error) {
	code = NormalizeCode(code)
	username = strings.TrimSpace(username)
	if code == "" {
		return domain.PublicBattle{}, s.reject("join", fmt.Errorf("%w: battle code is required", domain.ErrValidation))
	}
	if username == "" {
		return domain.PublicBattle{}, s.reject("join", fmt.Errorf("%w: username is required", domain.ErrValidation))
	}

	battle, err := s.battles.GetByCode(ctx, code)
	if err != nil {
		return domain.PublicBattle{}, s.reject("join", err)
	}
	if err := s.ensureOpen(ctx, battle); err != nil {
		return domain.PublicBattle{}, s.reject("join", err)
	}

	added, err := s.battles.AddPlayer(ctx, battle.ID, domain.Player{
		Username: username,
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.PublicBattle{}, fmt.Errorf("add player: %w", err)
	}
	if added {
		s.log.Info("player joined", zap.String("battle_id", battle.ID), zap.String("username", username))
		s.metrics.PlayerJoined()
		s.publish(ctx, domain.BattleEvent{
			Type:       domain.EventPlayerJoined,
			BattleID:   battle.ID,
			BattleCode: battle.Code,
			Username:   username,
			Status:     battle.Status,
			OccurredAt: s.now().UTC(),
		})
	}

	battle, err = s.battles.GetByID(ctx, battle.ID)
	if err != nil {
		return domain.PublicBattle{}, err
	}
	view := battle.Public(true)
	view.TimeBudgets = s.budgets()
	return view, nil
}

// ListRecent returns battles most recent first, without questions.
func (s *BattleService) ListRecent(ctx context.Context) ([]domain.PublicBattle, error) {
	battles, err := s.battles.ListRecent(ctx, s.settings.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	now := s.now()
	views := make([]domain.PublicBattle, 0, len(battles))
	for _, b := range battles {
		view := b.Public(false)
		if view.Status.Open() && b.Due(now) {
			view.Status = domain.StatusExpired
		}
		views = append(views, view)
	}
	return views, nil
}

// Submission is one player's full answer set.
type Submission struct {
	BattleID       string
	Username       string
	Answers        []domain.Answer
	CompletionTime float64
	Finish         bool
}

// EvaluationResult is returned to the submitting player.
type EvaluationResult struct {
	Analytics       domain.Analytics `json:"analytics"`
	UserPerformance domain.Player    `json:"userPerformance"`
	Players         []domain.Player  `json:"players"`
	Status          domain.Status    `json:"status"`
}

// Evaluate scores a submission, overwrites the player's entry and advances the battle status.
func (s *BattleService) Evaluate(ctx context.Context, sub Submission) (EvaluationResult, error) {
	sub.BattleID = strings.TrimSpace(sub.BattleID)
	sub.Username = strings.TrimSpace(sub.Username)
	if err := validateSubmission(sub); err != nil {
		return EvaluationResult{}, s.reject("evaluate", err)
	}

	battle, err := s.battles.GetByID(ctx, sub.BattleID)
	if err != nil {
		return EvaluationResult{}, s.reject("evaluate", err)
	}
	if err := s.ensureOpen(ctx, battle); err != nil {
		return EvaluationResult{}, s.reject("evaluate", err)
	}

	analytics := Score(battle.Questions, sub.Answers, sub.CompletionTime)

	now := s.now().UTC()
	prev, joined := battle.Player(sub.Username)
	resubmit := joined && prev.Submitted
	entry := domain.Player{
		Username:       sub.Username,
		Score:          analytics.TotalScore,
		Accuracy:       analytics.Accuracy,
		CorrectCount:   analytics.CorrectCount,
		IncorrectCount: analytics.IncorrectCount,
		CompletionTime: sub.CompletionTime,
		Submitted:      true,
		JoinedAt:       now,
		SubmittedAt:    &now,
	}
	if joined {
		entry.JoinedAt = prev.JoinedAt
	}
	if err := s.battles.UpsertPlayer(ctx, battle.ID, entry); err != nil {
		return EvaluationResult{}, fmt.Errorf("store player result: %w", err)
	}
	if _, err := s.battles.TransitionStatus(ctx, battle.ID,
		[]domain.Status{domain.StatusWaiting}, domain.StatusInProgress); err != nil {
		return EvaluationResult{}, fmt.Errorf("start battle: %w", err)
	}

	battle, err = s.battles.GetByID(ctx, battle.ID)
	if err != nil {
		return EvaluationResult{}, err
	}
	if sub.Finish || allSubmitted(battle.Players) {
		finished, err := s.battles.TransitionStatus(ctx, battle.ID,
			[]domain.Status{domain.StatusWaiting, domain.StatusInProgress}, domain.StatusFinished)
		if err != nil {
			return EvaluationResult{}, fmt.Errorf("finish battle: %w", err)
		}
		if finished {
			battle.Status = domain.StatusFinished
			s.log.Info("battle finished", zap.String("battle_id", battle.ID), zap.Int("players", len(battle.Players)))
			s.metrics.BattleFinished()
			s.publish(ctx, domain.BattleEvent{
				Type:       domain.EventBattleFinished,
				BattleID:   battle.ID,
				BattleCode: battle.Code,
				Status:     domain.StatusFinished,
				OccurredAt: now,
			})
		}
	}

	ranked := Rank(battle.Players)
	perf := entry
	for _, p := range ranked {
		if p.Username == sub.Username {
			perf = p
			break
		}
	}

	prev.Username = sub.Username
	update := profileUpdate(battle, prev, resubmit, analytics, perf.Rank, now, s.settings.HistoryCap)
	if err := s.users.ApplyBattleResult(ctx, update); err != nil {
		s.log.Error("apply battle result to profile",
			zap.String("battle_id", battle.ID),
			zap.String("username", sub.Username),
			zap.Error(err),
		)
	}

	s.log.Info("player evaluated",
		zap.String("battle_id", battle.ID),
		zap.String("username", sub.Username),
		zap.Int("score", analytics.TotalScore),
		zap.Float64("accuracy", analytics.Accuracy),
		zap.Bool("resubmit", resubmit),
	)
	s.metrics.Evaluated(analytics.Accuracy)
	s.publish(ctx, domain.BattleEvent{
		Type:       domain.EventPlayerEvaluated,
		BattleID:   battle.ID,
		BattleCode: battle.Code,
		Username:   sub.Username,
		Score:      analytics.TotalScore,
		Accuracy:   analytics.Accuracy,
		Status:     battle.Status,
		OccurredAt: now,
	})

	return EvaluationResult{
		Analytics:       analytics,
		UserPerformance: perf,
		Players:         ranked,
		Status:          battle.Status,
	}, nil
}

// Analysis is the read-only standings view of a battle.
type Analysis struct {
	Battle      domain.PublicBattle `json:"battle"`
	Leaderboard []domain.Player     `json:"leaderboard"`
	Performance domain.Performance  `json:"performance"`
}

// Analysis ranks the current players. Calling it twice without writes yields the same output.
func (s *BattleService) Analysis(ctx context.Context, battleID string) (Analysis, error) {
	battleID = strings.TrimSpace(battleID)
	if battleID == "" {
		return Analysis{}, s.reject("analysis", fmt.Errorf("%w: battle id is required", domain.ErrValidation))
	}
	battle, err := s.battles.GetByID(ctx, battleID)
	if err != nil {
		return Analysis{}, s.reject("analysis", err)
	}
	ranked := Rank(battle.Players)
	view := battle.Public(true)
	if view.Status.Open() && battle.Due(s.now()) {
		view.Status = domain.StatusExpired
	}
	view.Players = ranked
	return Analysis{
		Battle:      view,
		Leaderboard: ranked,
		Performance: Summarize(ranked, len(battle.Questions)),
	}, nil
}

// Profile is a user's stats plus one page of battle history.
type Profile struct {
	Stats   domain.UserStats      `json:"profile"`
	Battles []domain.HistoryEntry `json:"battles"`
}

// History pages through a user's battle history, newest first.
func (s *BattleService) History(ctx context.Context, username string, limit, offset int) (Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Profile{}, s.reject("history", fmt.Errorf("%w: username is required", domain.ErrValidation))
	}
	if limit < 0 || offset < 0 {
		return Profile{}, s.reject("history", fmt.Errorf("%w: limit and offset must not be negative", domain.ErrValidation))
	}
	if limit == 0 {
		limit = s.settings.HistoryPageSize
	}
	if limit > s.settings.HistoryCap {
		limit = s.settings.HistoryCap
	}

	stats, err := s.users.Stats(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return Profile{Stats: domain.UserStats{Username: username}, Battles: []domain.HistoryEntry{}}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	entries, err := s.users.History(ctx, username, limit, offset)
	if err != nil {
		return Profile{}, fmt.Errorf("load history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return Profile{Stats: stats, Battles: entries}, nil
}

// ensureOpen rejects battles that no longer take joins or answers. A battle past its
// end time is moved to expired on first touch.
func (s *BattleService) ensureOpen(ctx context.Context, b domain.Battle) error {
	switch b.Status {
	case domain.StatusFinished:
		return domain.ErrAlreadyFinished
	case domain.StatusExpired:
		return domain.ErrBattleExpired
	}
	if !b.Due(s.now()) {
		return nil
	}
	moved, err := s.battles.TransitionStatus(ctx, b.ID,
		[]domain.Status{domain.StatusWaiting, domain.StatusInProgress}, domain.StatusExpired)
	if err != nil {
		return fmt.Errorf("expire battle: %w", err)
	}
	if moved {
		s.log.Info("battle expired", zap.String("battle_id", b.ID), zap.Timep("end_time", b.EndTime))
	}
	return domain.ErrBattleExpired
}

func (s *BattleService) pick(pool []domain.Question, n int) []domain.Question {
	shuffled := make([]domain.Question, len(pool))
	copy(shuffled, pool)
	s.rndMu.Lock()
	s.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	s.rndMu.Unlock()
	return shuffled[:n]
}

func (s *BattleService) budgets() *domain.TimeBudgets {
	return &domain.TimeBudgets{
		MCQ:       int(s.settings.MCQBudget / time.Second),
		Paragraph: int(s.settings.ParagraphBudget / time.Second),
	}
}

func (s *BattleService) publish(ctx context.Context, event domain.BattleEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("publish battle event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

func (s *BattleService) reject(op string, err error) error {
	s.metrics.Rejected(op, err)
	return err
}

func validateSubmission(sub Submission) error {
	if sub.BattleID == "" {
		return fmt.Errorf("%w: battle id is required", domain.ErrValidation)
	}
	if sub.Username == "" {
		return fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	if sub.CompletionTime < 0 {
		return fmt.Errorf("%w: completion time must not be negative", domain.ErrValidation)
	}
	for i, a := range sub.Answers {
		if a.TimeTaken < 0 {
			return fmt.Errorf("%w: answer %d has a negative time", domain.ErrValidation, i)
		}
	}
	return nil
}

// allSubmitted needs at least two players, so a lone early finisher does not close a duel.
func allSubmitted(players []domain.Player) bool {
	if len(players) < 2 {
		return false
	}
	for _, p := range players {
		if !p.Submitted {
			return false
		}
	}
	return true
}

// NormalizeTags trims, lower-cases and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
