package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"nova-battle-service/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Open returns a bun handle over pgdriver for dsn.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type battleModel struct {
	bun.BaseModel `bun:"table:battles"`

	ID        string            `bun:"id,pk"`
	Code      string            `bun:"code,notnull"`
	Name      string            `bun:"name,notnull"`
	Tags      []string          `bun:"tags,array"`
	Questions []domain.Question `bun:"questions,type:jsonb"`
	Status    string            `bun:"status,notnull"`
	CreatedBy string            `bun:"created_by"`
	CreatedAt time.Time         `bun:"created_at,notnull"`
	StartTime *time.Time        `bun:"start_time"`
	EndTime   *time.Time        `bun:"end_time"`
}

type playerModel struct {
	bun.BaseModel `bun:"table:battle_players"`

	BattleID       string     `bun:"battle_id,pk"`
	Username       string     `bun:"username,pk"`
	Score          int        `bun:"score"`
	Accuracy       float64    `bun:"accuracy"`
	CorrectCount   int        `bun:"correct_count"`
	IncorrectCount int        `bun:"incorrect_count"`
	CompletionTime float64    `bun:"completion_time"`
	Submitted      bool       `bun:"submitted"`
	JoinedAt       time.Time  `bun:"joined_at,notnull"`
	SubmittedAt    *time.Time `bun:"submitted_at"`
}

type userModel struct {
	bun.BaseModel `bun:"table:users"`

	Username      string  `bun:"username,pk"`
	XP            int     `bun:"xp"`
	Coins         int     `bun:"coins"`
	AccuracyScore float64 `bun:"accuracy_score"`
	MasteryScore  float64 `bun:"mastery_score"`
	FocusScore    float64 `bun:"focus_score"`
	BattlesPlayed int     `bun:"battles_played"`
}

type historyModel struct {
	bun.BaseModel `bun:"table:battle_history"`

	Username       string    `bun:"username,pk"`
	BattleID       string    `bun:"battle_id,pk"`
	BattleName     string    `bun:"battle_name,notnull"`
	Date           time.Time `bun:"date,notnull"`
	Rank           int       `bun:"rank"`
	Score          int       `bun:"score"`
	Accuracy       float64   `bun:"accuracy"`
	CorrectCount   int       `bun:"correct_count"`
	TotalQuestions int       `bun:"total_questions"`
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID   string          `bun:"id,pk"`
	Tags []string        `bun:"tags,array"`
	Data domain.Question `bun:"data,type:jsonb"`
}

func toBattleModel(b domain.Battle) *battleModel {
	return &battleModel{
		ID:        b.ID,
		Code:      b.Code,
		Name:      b.Name,
		Tags:      b.Tags,
		Questions: b.Questions,
		Status:    string(b.Status),
		CreatedBy: b.CreatedBy,
		CreatedAt: b.CreatedAt,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
	}
}

func (m *battleModel) toDomain(players []playerModel) domain.Battle {
	b := domain.Battle{
		ID:        m.ID,
		Code:      m.Code,
		Name:      m.Name,
		Tags:      m.Tags,
		Questions: m.Questions,
		Status:    domain.Status(m.Status),
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
		StartTime: m.StartTime,
		EndTime:   m.EndTime,
		Players:   make([]domain.Player, 0, len(players)),
	}
	for _, p := range players {
		b.Players = append(b.Players, p.toDomain())
	}
	return b
}

func toPlayerModel(battleID string, p domain.Player) *playerModel {
	return &playerModel{
		BattleID:       battleID,
		Username:       p.Username,
		Score:          p.Score,
		Accuracy:       p.Accuracy,
		CorrectCount:   p.CorrectCount,
		IncorrectCount: p.IncorrectCount,
		CompletionTime: p.CompletionTime,
		Submitted:      p.Submitted,
		JoinedAt:       p.JoinedAt,
		SubmittedAt:    p.SubmittedAt,
	}
}

func (m playerModel) toDomain() domain.Player {
	return domain.Player{
		Username:       m.Username,
		Score:          m.Score,
		Accuracy:       m.Accuracy,
		CorrectCount:   m.CorrectCount,
		IncorrectCount: m.IncorrectCount,
		CompletionTime: m.CompletionTime,
		Submitted:      m.Submitted,
		JoinedAt:       m.JoinedAt,
		SubmittedAt:    m.SubmittedAt,
	}
}

func (m historyModel) toDomain() domain.HistoryEntry {
	return domain.HistoryEntry{
		BattleID:       m.BattleID,
		BattleName:     m.BattleName,
		Date:           m.Date,
		Rank:           m.Rank,
		Score:          m.Score,
		Accuracy:       m.Accuracy,
		CorrectCount:   m.CorrectCount,
		TotalQuestions: m.TotalQuestions,
	}
}

// pgCode returns the SQLSTATE and constraint of a server error.
func pgCode(err error) (code, constraint string) {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C'), pgErr.Field('n')
	}
	return "", ""
}

func isCodeConflict(err error) bool {
	code, constraint := pgCode(err)
	return code == "23505" && strings.Contains(constraint, "code")
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgCode(err)
	return code == "23503"
}
