package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nova-battle-service/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBattleStoreRoundTrip(t *testing.T) {
	mr, client := startRedis(t)
	store := NewBattleStore(client)
	ctx := context.Background()

	if err := store.Create(ctx, sampleBattle("b1", "ABC234", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !mr.Exists("battle:code:ABC234") || !mr.Exists("battle:b1:status") {
		t.Fatalf("expected code and status keys to be set")
	}

	b, err := store.GetByCode(ctx, "ABC234")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if b.ID != "b1" || b.Status != domain.StatusWaiting || len(b.Questions) != 1 || b.Questions[0].MCQ == nil {
		t.Fatalf("unexpected battle: %+v", b)
	}
	if b.Questions[0].MCQ.CorrectAnswer != "let" {
		t.Fatalf("answer key lost in storage: %+v", b.Questions[0].MCQ)
	}

	if err := store.Create(ctx, sampleBattle("b2", "ABC234", 0)); !errors.Is(err, domain.ErrBattleCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}
	if _, err := store.GetByID(ctx, "nope"); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBattleStoreJoinIsAddIfAbsent(t *testing.T) {
	_, client := startRedis(t)
	store := NewBattleStore(client)
	ctx := context.Background()
	_ = store.Create(ctx, sampleBattle("b1", "ABC234", 0))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.AddPlayer(ctx, "b1", domain.Player{Username: fmt.Sprintf("u%d", i)})
		}(i)
	}
	wg.Wait()

	added, err := store.AddPlayer(ctx, "b1", domain.Player{Username: "u1", Score: 7})
	if err != nil || added {
		t.Fatalf("expected re-join to be a no-op, added=%v err=%v", added, err)
	}
	b, _ := store.GetByID(ctx, "b1")
	if len(b.Players) != 10 {
		t.Fatalf("expected 10 players, got %d", len(b.Players))
	}

	if err := store.UpsertPlayer(ctx, "b1", domain.Player{Username: "u1", Score: 3, Submitted: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	b, _ = store.GetByID(ctx, "b1")
	p, _ := b.Player("u1")
	if p.Score != 3 || !p.Submitted || len(b.Players) != 10 {
		t.Fatalf("expected overwrite in place, got %+v (%d players)", p, len(b.Players))
	}

	if _, err := store.AddPlayer(ctx, "missing", domain.Player{Username: "x"}); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBattleStoreConcurrentUpsertsKeepEveryPlayer(t *testing.T) {
	_, client := startRedis(t)
	store := NewBattleStore(client)
	ctx := context.Background()
	_ = store.Create(ctx, sampleBattle("b1", "ABC234", 0))
	for i := 0; i < 10; i++ {
		_, _ = store.AddPlayer(ctx, "b1", domain.Player{Username: fmt.Sprintf("u%d", i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.Player{Username: fmt.Sprintf("u%d", i), Score: i, Submitted: true}
			if err := store.UpsertPlayer(ctx, "b1", p); err != nil {
				t.Errorf("upsert u%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	b, err := store.GetByID(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(b.Players) != 10 {
		t.Fatalf("expected 10 players, got %d", len(b.Players))
	}
	for i := 0; i < 10; i++ {
		p, ok := b.Player(fmt.Sprintf("u%d", i))
		if !ok || p.Score != i || !p.Submitted {
			t.Fatalf("u%d entry lost or overwritten: %+v", i, p)
		}
	}
}

func TestBattleStoreTransitionScript(t *testing.T) {
	_, client := startRedis(t)
	store := NewBattleStore(client)
	ctx := context.Background()
	_ = store.Create(ctx, sampleBattle("b1", "ABC234", 0))

	ok, err := store.TransitionStatus(ctx, "b1", []domain.Status{domain.StatusInProgress}, domain.StatusFinished)
	if err != nil || ok {
		t.Fatalf("expected no-op, ok=%v err=%v", ok, err)
	}
	ok, err = store.TransitionStatus(ctx, "b1", []domain.Status{domain.StatusWaiting, domain.StatusInProgress}, domain.StatusFinished)
	if err != nil || !ok {
		t.Fatalf("expected transition, ok=%v err=%v", ok, err)
	}
	b, _ := store.GetByID(ctx, "b1")
	if b.Status != domain.StatusFinished {
		t.Fatalf("expected finished, got %s", b.Status)
	}
	if _, err := store.TransitionStatus(ctx, "missing", []domain.Status{domain.StatusWaiting}, domain.StatusExpired); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBattleStoreListRecent(t *testing.T) {
	_, client := startRedis(t)
	store := NewBattleStore(client)
	ctx := context.Background()
	for i, code := range []string{"AAAAA2", "AAAAA3", "AAAAA4"} {
		_ = store.Create(ctx, sampleBattle(fmt.Sprintf("b%d", i), code, i))
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "b2" || recent[1].ID != "b1" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func startRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleBattle(id, code string, minute int) domain.Battle {
	created := time.Date(2024, 5, 1, 10, minute, 0, 0, time.UTC)
	return domain.Battle{
		ID:        id,
		Code:      code,
		Name:      "JS Clash",
		Tags:      []string{"javascript"},
		Questions: []domain.Question{sampleQuestion()},
		Status:    domain.StatusWaiting,
		CreatedAt: created,
	}
}

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:   "q1",
		Text: "Which keyword declares a block-scoped variable?",
		Kind: domain.KindMCQ,
		Tags: []string{"javascript"},
		MCQ:  &domain.MCQ{Options: []string{"var", "let"}, CorrectAnswer: "let"},
	}
}
