package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nova-battle-service/internal/domain"
)

func TestUserStoreAppliesAndBlends(t *testing.T) {
	_, client := startRedis(t)
	store := NewUserStore(client)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	update := domain.ProfileUpdate{
		Username: "alice", BattleID: "b1", XPDelta: 20, CoinsDelta: 9,
		First: true, Blend: 0.25, Accuracy: 80, Mastery: 50, Focus: 100,
		History:    domain.HistoryEntry{BattleID: "b1", BattleName: "JS Clash", Date: day, Rank: 1, Score: 2},
		HistoryCap: 100,
	}
	if err := store.ApplyBattleResult(ctx, update); err != nil {
		t.Fatalf("apply: %v", err)
	}

	second := update
	second.BattleID = "b2"
	second.Accuracy = 40
	second.XPDelta = 10
	second.History = domain.HistoryEntry{BattleID: "b2", Date: day.Add(time.Hour)}
	if err := store.ApplyBattleResult(ctx, second); err != nil {
		t.Fatalf("apply 2: %v", err)
	}

	st, err := store.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.XP != 30 || st.Coins != 18 || st.BattlesPlayed != 2 || st.AccuracyScore != 70 || st.MasteryScore != 50 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	resubmit := second
	resubmit.First = false
	resubmit.XPDelta = -10
	resubmit.CoinsDelta = 0
	resubmit.History.Score = 9
	_ = store.ApplyBattleResult(ctx, resubmit)

	st, _ = store.Stats(ctx, "alice")
	if st.XP != 20 || st.BattlesPlayed != 2 || st.AccuracyScore != 70 {
		t.Fatalf("resubmission must only move XP: %+v", st)
	}
	hist, err := store.History(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].BattleID != "b2" || hist[0].Score != 9 || hist[1].BattleName != "JS Clash" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestUserStoreCapsHistory(t *testing.T) {
	_, client := startRedis(t)
	store := NewUserStore(client)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("b%d", i)
		err := store.ApplyBattleResult(ctx, domain.ProfileUpdate{
			Username:   "bob",
			BattleID:   id,
			First:      true,
			Blend:      0.25,
			History:    domain.HistoryEntry{BattleID: id, Date: day.Add(time.Duration(i) * time.Hour)},
			HistoryCap: 3,
		})
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	all, _ := store.History(ctx, "bob", 10, 0)
	if len(all) != 3 || all[0].BattleID != "b4" || all[2].BattleID != "b2" {
		t.Fatalf("expected newest three, got %+v", all)
	}
	page, _ := store.History(ctx, "bob", 2, 2)
	if len(page) != 1 || page[0].BattleID != "b2" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if n, _ := client.HLen(ctx, "user:bob:history").Result(); n != 3 {
		t.Fatalf("expected trimmed hash, got %d entries", n)
	}
	if _, err := store.Stats(ctx, "nobody"); err != domain.ErrUserNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
