package memory

import (
	"context"
	"sort"
	"sync"

	"nova-battle-service/internal/domain"
)

type userRecord struct {
	stats   domain.UserStats
	history []domain.HistoryEntry // oldest first
}

// UserStore is an in-memory implementation of app.UserStore.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*userRecord
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*userRecord)}
}

func (s *UserStore) ApplyBattleResult(_ context.Context, u domain.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[u.Username]
	if !ok {
		rec = &userRecord{stats: domain.UserStats{Username: u.Username}}
		s.users[u.Username] = rec
	}
	st := &rec.stats
	st.XP += u.XPDelta
	st.Coins += u.CoinsDelta
	if u.First {
		st.AccuracyScore = domain.BlendScore(st.AccuracyScore, u.Accuracy, u.Blend, st.BattlesPlayed)
		st.MasteryScore = domain.BlendScore(st.MasteryScore, u.Mastery, u.Blend, st.BattlesPlayed)
		st.FocusScore = domain.BlendScore(st.FocusScore, u.Focus, u.Blend, st.BattlesPlayed)
		st.BattlesPlayed++
	}

	kept := rec.history[:0]
	for _, h := range rec.history {
		if h.BattleID != u.History.BattleID {
			kept = append(kept, h)
		}
	}
	kept = append(kept, u.History)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Date.Before(kept[j].Date) })
	if u.HistoryCap > 0 && len(kept) > u.HistoryCap {
		kept = kept[len(kept)-u.HistoryCap:]
	}
	rec.history = kept
	return nil
}

func (s *UserStore) History(_ context.Context, username string, limit, offset int) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return []domain.HistoryEntry{}, nil
	}
	out := make([]domain.HistoryEntry, 0, limit)
	for i := len(rec.history) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, rec.history[i])
	}
	return out, nil
}

func (s *UserStore) Stats(_ context.Context, username string) (domain.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	return rec.stats, nil
}
