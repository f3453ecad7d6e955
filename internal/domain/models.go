package domain

import "time"

// Status is the lifecycle state of a battle.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
	StatusExpired    Status = "expired"
)

// Open reports whether the battle still accepts joins and submissions.
func (s Status) Open() bool {
	return s == StatusWaiting || s == StatusInProgress
}

// Player is a participant entry inside a battle.
type Player struct {
	Username       string     `json:"username" bson:"username"`
	Score          int        `json:"score" bson:"score"`
	Accuracy       float64    `json:"accuracy" bson:"accuracy"`
	CorrectCount   int        `json:"correctCount" bson:"correctCount"`
	IncorrectCount int        `json:"incorrectCount" bson:"incorrectCount"`
	CompletionTime float64    `json:"completionTime" bson:"completionTime"`
	Submitted      bool       `json:"submitted" bson:"submitted"`
	JoinedAt       time.Time  `json:"joinedAt" bson:"joinedAt"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty" bson:"submittedAt,omitempty"`
	Rank           int        `json:"rank,omitempty" bson:"-"` // computed on read
}

// Battle is the persisted record of a quiz duel.
type Battle struct {
	ID        string     `json:"battleId"`
	Code      string     `json:"battleCode"`
	Name      string     `json:"battleName"`
	Tags      []string   `json:"tags"`
	Questions []Question `json:"questions"`
	Players   []Player   `json:"players"`
	Status    Status     `json:"status"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Player returns the entry for username, if present.
func (b Battle) Player(username string) (Player, bool) {
	for _, p := range b.Players {
		if p.Username == username {
			return p, true
		}
	}
	return Player{}, false
}

// Due reports whether the scheduling window closed before now.
func (b Battle) Due(now time.Time) bool {
	return b.EndTime != nil && now.After(*b.EndTime)
}

// PublicBattle is the client-facing view of a battle; it never carries answers.
type PublicBattle struct {
	ID            string           `json:"battleId"`
	Code          string           `json:"battleCode"`
	Name          string           `json:"battleName"`
	Tags          []string         `json:"tags"`
	Status        Status           `json:"status"`
	CreatedBy     string           `json:"createdBy"`
	CreatedAt     time.Time        `json:"createdAt"`
	StartTime     *time.Time       `json:"startTime,omitempty"`
	EndTime       *time.Time       `json:"endTime,omitempty"`
	QuestionCount int              `json:"questionCount"`
	Questions     []PublicQuestion `json:"questions,omitempty"`
	Players       []Player         `json:"players"`
	TimeBudgets   *TimeBudgets     `json:"timeBudgets,omitempty"`
}

// TimeBudgets are the per-kind round durations in seconds.
type TimeBudgets struct {
	MCQ       int `json:"mcq"`
	Paragraph int `json:"paragraph"`
}

// Public builds the client view. Questions are included only when withQuestions is set.
func (b Battle) Public(withQuestions bool) PublicBattle {
	pb := PublicBattle{
		ID:            b.ID,
		Code:          b.Code,
		Name:          b.Name,
		Tags:          b.Tags,
		Status:        b.Status,
		CreatedBy:     b.CreatedBy,
		CreatedAt:     b.CreatedAt,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		QuestionCount: len(b.Questions),
		Players:       b.Players,
	}
	if pb.Players == nil {
		pb.Players = []Player{}
	}
	if withQuestions {
		pb.Questions = make([]PublicQuestion, 0, len(b.Questions))
		for _, q := range b.Questions {
			pb.Questions = append(pb.Questions, q.Public())
		}
	}
	return pb
}

// Answer is one submitted response. The server treats a submitted slice as a value.
type Answer struct {
	QuestionID   string       `json:"questionId"`
	QuestionText string       `json:"questionText,omitempty"`
	QuestionType QuestionKind `json:"questionType,omitempty"`
	Answer       string       `json:"answer"`
	TimeTaken    float64      `json:"timeTaken"`
	IsAuto       bool         `json:"isAuto"`
}

// QuestionResult is the outcome for a single question.
type QuestionResult struct {
	QuestionID  string       `json:"questionId"`
	Kind        QuestionKind `json:"questionType"`
	Answer      string       `json:"answer"`
	Correct     bool         `json:"correct"`
	Points      int          `json:"points"`
	TimeTaken   float64      `json:"timeTaken"`
	IsAuto      bool         `json:"isAuto"`
	NeedsReview bool         `json:"needsReview,omitempty"`
	Feedback    string       `json:"feedback,omitempty"`
}

// TagPerformance is accuracy bucketed by one tag.
type TagPerformance struct {
	Tag      string  `json:"tag"`
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Analytics summarizes one player's evaluation.
type Analytics struct {
	TotalQuestions     int              `json:"totalQuestions"`
	TotalScore         int              `json:"totalScore"`
	CorrectCount       int              `json:"correctCount"`
	IncorrectCount     int              `json:"incorrectCount"`
	Accuracy           float64          `json:"accuracy"`
	CompletionTime     float64          `json:"completionTime"`
	AverageTimeTaken   float64          `json:"averageTimeTaken"`
	AutoSubmittedCount int              `json:"autoSubmittedCount"`
	TagWisePerformance []TagPerformance `json:"tagWisePerformance"`
	Results            []QuestionResult `json:"results"`
}

// Performance aggregates all players of a battle.
type Performance struct {
	TotalPlayers   int     `json:"totalPlayers"`
	HighestScore   int     `json:"highestScore"`
	LowestScore    int     `json:"lowestScore"`
	AverageScore   float64 `json:"averageScore"`
	TotalQuestions int     `json:"totalQuestions"`
}

// HistoryEntry is the compact battle summary stored on a user profile.
type HistoryEntry struct {
	BattleID       string    `json:"battleId" bson:"battleId"`
	BattleName     string    `json:"battleName" bson:"battleName"`
	Date           time.Time `json:"date" bson:"date"`
	Rank           int       `json:"rank" bson:"rank"`
	Score          int       `json:"score" bson:"score"`
	Accuracy       float64   `json:"accuracy" bson:"accuracy"`
	CorrectCount   int       `json:"correctCount" bson:"correctCount"`
	TotalQuestions int       `json:"totalQuestions" bson:"totalQuestions"`
}

// UserStats are the gamification scalars of a user profile.
type UserStats struct {
	Username      string  `json:"username"`
	XP            int     `json:"xp"`
	Coins         int     `json:"coins"`
	AccuracyScore float64 `json:"accuracyScore"`
	MasteryScore  float64 `json:"masteryScore"`
	FocusScore    float64 `json:"focusScore"`
	BattlesPlayed int     `json:"battlesPlayed"`
}
