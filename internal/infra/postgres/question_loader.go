package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nova-battle-service/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// QuestionLoader loads question JSONB from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

// questionsQuery selects every question sharing a tag with tags.
func questionsQuery(tags []string) (string, []interface{}, error) {
	return psql.Select("data").
		From("questions").
		Where("tags && ?::text[]", tags).
		OrderBy("id").
		ToSql()
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, tags []string) ([]domain.Question, error) {
	query, args, err := questionsQuery(tags)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SeedQuestions upserts questions into the bank. Every question is validated first.
func SeedQuestions(ctx context.Context, db bun.IDB, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	rows := make([]questionModel, 0, len(questions))
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
		tags := make([]string, 0, len(q.Tags))
		for _, t := range q.Tags {
			tags = append(tags, strings.ToLower(strings.TrimSpace(t)))
		}
		rows = append(rows, questionModel{ID: q.ID, Tags: tags, Data: q})
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("tags = EXCLUDED.tags").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("seed questions: %w", err)
	}
	return nil
}
