package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nova-battle-service/internal/domain"

	"github.com/uptrace/bun"
)

// BattleStore persists battles in Postgres through bun. Player entries live in
// battle_players keyed by (battle_id, username), so joins and evaluations touch one row.
type BattleStore struct {
	db *bun.DB
}

func NewBattleStore(db *bun.DB) *BattleStore {
	return &BattleStore{db: db}
}

func (s *BattleStore) Create(ctx context.Context, battle domain.Battle) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toBattleModel(battle)).Exec(ctx); err != nil {
			if isCodeConflict(err) {
				return domain.ErrBattleCodeTaken
			}
			return fmt.Errorf("insert battle: %w", err)
		}
		for _, p := range battle.Players {
			if _, err := tx.NewInsert().Model(toPlayerModel(battle.ID, p)).Exec(ctx); err != nil {
				return fmt.Errorf("insert player: %w", err)
			}
		}
		return nil
	})
}

func (s *BattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	return s.getWhere(ctx, "id = ?", id)
}

func (s *BattleStore) GetByCode(ctx context.Context, code string) (domain.Battle, error) {
	return s.getWhere(ctx, "code = ?", code)
}

func (s *BattleStore) getWhere(ctx context.Context, where, arg string) (domain.Battle, error) {
	m := new(battleModel)
	err := s.db.NewSelect().Model(m).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("select battle: %w", err)
	}

	var players []playerModel
	err = s.db.NewSelect().Model(&players).
		Where("battle_id = ?", m.ID).
		OrderExpr("joined_at ASC, username ASC").
		Scan(ctx)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("select players: %w", err)
	}
	return m.toDomain(players), nil
}

func (s *BattleStore) ListRecent(ctx context.Context, limit int) ([]domain.Battle, error) {
	var battles []battleModel
	q := s.db.NewSelect().Model(&battles).OrderExpr("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select battles: %w", err)
	}
	if len(battles) == 0 {
		return []domain.Battle{}, nil
	}

	ids := make([]string, 0, len(battles))
	for _, b := range battles {
		ids = append(ids, b.ID)
	}
	var players []playerModel
	err := s.db.NewSelect().Model(&players).
		Where("battle_id IN (?)", bun.In(ids)).
		OrderExpr("joined_at ASC, username ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	byBattle := make(map[string][]playerModel, len(battles))
	for _, p := range players {
		byBattle[p.BattleID] = append(byBattle[p.BattleID], p)
	}

	out := make([]domain.Battle, 0, len(battles))
	for i := range battles {
		out = append(out, battles[i].toDomain(byBattle[battles[i].ID]))
	}
	return out, nil
}

func (s *BattleStore) AddPlayer(ctx context.Context, battleID string, player domain.Player) (bool, error) {
	res, err := s.db.NewInsert().
		Model(toPlayerModel(battleID, player)).
		On("CONFLICT (battle_id, username) DO NOTHING").
		Exec(ctx)
	if isForeignKeyViolation(err) {
		return false, domain.ErrBattleNotFound
	}
	if err != nil {
		return false, fmt.Errorf("insert player: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *BattleStore) UpsertPlayer(ctx context.Context, battleID string, player domain.Player) error {
	_, err := s.db.NewInsert().
		Model(toPlayerModel(battleID, player)).
		On("CONFLICT (battle_id, username) DO UPDATE").
		Set("score = EXCLUDED.score").
		Set("accuracy = EXCLUDED.accuracy").
		Set("correct_count = EXCLUDED.correct_count").
		Set("incorrect_count = EXCLUDED.incorrect_count").
		Set("completion_time = EXCLUDED.completion_time").
		Set("submitted = EXCLUDED.submitted").
		Set("submitted_at = EXCLUDED.submitted_at").
		Exec(ctx)
	if isForeignKeyViolation(err) {
		return domain.ErrBattleNotFound
	}
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	return nil
}

func (s *BattleStore) TransitionStatus(ctx context.Context, battleID string, from []domain.Status, to domain.Status) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	if len(allowed) == 0 {
		return false, nil
	}
	res, err := s.db.NewUpdate().
		Model((*battleModel)(nil)).
		Set("status = ?", string(to)).
		Where("id = ?", battleID).
		Where("status IN (?)", bun.In(allowed)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	exists, err := s.db.NewSelect().Model((*battleModel)(nil)).Where("id = ?", battleID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check battle: %w", err)
	}
	if !exists {
		return false, domain.ErrBattleNotFound
	}
	return false, nil
}
