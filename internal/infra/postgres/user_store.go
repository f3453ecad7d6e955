package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nova-battle-service/internal/domain"

	"github.com/uptrace/bun"
)

// UserStore keeps gamification scalars in users and one row per battle in battle_history.
type UserStore struct {
	db *bun.DB
}

func NewUserStore(db *bun.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) ApplyBattleResult(ctx context.Context, u domain.ProfileUpdate) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&userModel{Username: u.Username}).
			On("CONFLICT (username) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		upd := tx.NewUpdate().
			Model((*userModel)(nil)).
			Set("xp = xp + ?", u.XPDelta).
			Set("coins = coins + ?", u.CoinsDelta).
			Where("username = ?", u.Username)
		if u.First {
			// SET expressions read the pre-update row, so battles_played is the old count.
			blend := "CASE WHEN battles_played = 0 THEN ? ELSE %s * (1 - ?) + ? * ? END"
			upd = upd.
				Set("accuracy_score = "+fmt.Sprintf(blend, "accuracy_score"), u.Accuracy, u.Blend, u.Accuracy, u.Blend).
				Set("mastery_score = "+fmt.Sprintf(blend, "mastery_score"), u.Mastery, u.Blend, u.Mastery, u.Blend).
				Set("focus_score = "+fmt.Sprintf(blend, "focus_score"), u.Focus, u.Blend, u.Focus, u.Blend).
				Set("battles_played = battles_played + 1")
		}
		if _, err := upd.Exec(ctx); err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		h := u.History
		_, err = tx.NewInsert().
			Model(&historyModel{
				Username:       u.Username,
				BattleID:       h.BattleID,
				BattleName:     h.BattleName,
				Date:           h.Date,
				Rank:           h.Rank,
				Score:          h.Score,
				Accuracy:       h.Accuracy,
				CorrectCount:   h.CorrectCount,
				TotalQuestions: h.TotalQuestions,
			}).
			On("CONFLICT (username, battle_id) DO UPDATE").
			Set("battle_name = EXCLUDED.battle_name").
			Set("date = EXCLUDED.date").
			Set("rank = EXCLUDED.rank").
			Set("score = EXCLUDED.score").
			Set("accuracy = EXCLUDED.accuracy").
			Set("correct_count = EXCLUDED.correct_count").
			Set("total_questions = EXCLUDED.total_questions").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert history: %w", err)
		}

		if u.HistoryCap <= 0 {
			return nil
		}
		keep := tx.NewSelect().
			Model((*historyModel)(nil)).
			Column("battle_id").
			Where("username = ?", u.Username).
			OrderExpr("date DESC").
			Limit(u.HistoryCap)
		_, err = tx.NewDelete().
			Model((*historyModel)(nil)).
			Where("username = ?", u.Username).
			Where("battle_id NOT IN (?)", keep).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return nil
	})
}

func (s *UserStore) History(ctx context.Context, username string, limit, offset int) ([]domain.HistoryEntry, error) {
	var rows []historyModel
	err := s.db.NewSelect().
		Model(&rows).
		Where("username = ?", username).
		OrderExpr("date DESC, battle_id DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *UserStore) Stats(ctx context.Context, username string) (domain.UserStats, error) {
	m := new(userModel)
	err := s.db.NewSelect().Model(m).Where("username = ?", username).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("select user: %w", err)
	}
	return domain.UserStats{
		Username:      m.Username,
		XP:            m.XP,
		Coins:         m.Coins,
		AccuracyScore: m.AccuracyScore,
		MasteryScore:  m.MasteryScore,
		FocusScore:    m.FocusScore,
		BattlesPlayed: m.BattlesPlayed,
	}, nil
}
