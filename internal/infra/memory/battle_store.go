package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nova-battle-service/internal/domain"
)

// BattleStore is an in-memory implementation of app.BattleStore.
type BattleStore struct {
	mu      sync.RWMutex
	battles map[string]*domain.Battle
	codes   map[string]string // code -> battle id
}

func NewBattleStore() *BattleStore {
	return &BattleStore{
		battles: make(map[string]*domain.Battle),
		codes:   make(map[string]string),
	}
}

func (s *BattleStore) Create(_ context.Context, battle domain.Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[battle.Code]; taken {
		return domain.ErrBattleCodeTaken
	}
	if _, exists := s.battles[battle.ID]; exists {
		return fmt.Errorf("battle %s already exists", battle.ID)
	}
	b := cloneBattle(battle)
	s.battles[battle.ID] = &b
	s.codes[battle.Code] = battle.ID
	return nil
}

func (s *BattleStore) GetByID(_ context.Context, id string) (domain.Battle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.battles[id]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return cloneBattle(*b), nil
}

func (s *BattleStore) GetByCode(ctx context.Context, code string) (domain.Battle, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *BattleStore) ListRecent(_ context.Context, limit int) ([]domain.Battle, error) {
	s.mu.RLock()
	out := make([]domain.Battle, 0, len(s.battles))
	for _, b := range s.battles {
		out = append(out, cloneBattle(*b))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BattleStore) AddPlayer(_ context.Context, battleID string, player domain.Player) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return false, domain.ErrBattleNotFound
	}
	if _, exists := b.Player(player.Username); exists {
		return false, nil
	}
	b.Players = append(b.Players, player)
	return true, nil
}

func (s *BattleStore) UpsertPlayer(_ context.Context, battleID string, player domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return domain.ErrBattleNotFound
	}
	for i := range b.Players {
		if b.Players[i].Username == player.Username {
			b.Players[i] = player
			return nil
		}
	}
	b.Players = append(b.Players, player)
	return nil
}

func (s *BattleStore) TransitionStatus(_ context.Context, battleID string, from []domain.Status, to domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[battleID]
	if !ok {
		return false, domain.ErrBattleNotFound
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			return true, nil
		}
	}
	return false, nil
}

// cloneBattle copies the mutable slices so callers never alias store state.
func cloneBattle(b domain.Battle) domain.Battle {
	out := b
	out.Tags = append([]string(nil), b.Tags...)
	out.Questions = append([]domain.Question(nil), b.Questions...)
	out.Players = make([]domain.Player, len(b.Players))
	copy(out.Players, b.Players)
	return out
}
