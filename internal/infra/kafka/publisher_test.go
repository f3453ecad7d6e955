package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"nova-battle-service/internal/domain"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublishEncodesEventAsJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev domain.BattleEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != domain.EventPlayerEvaluated || ev.Username != "alice" || ev.Score != 2 {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})

	pub := NewPublisherWithProducer(producer, "battle-events")
	err := pub.Publish(context.Background(), domain.BattleEvent{
		Type:       domain.EventPlayerEvaluated,
		BattleID:   "b1",
		Username:   "alice",
		Score:      2,
		OccurredAt: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublishReturnsProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisherWithProducer(producer, "battle-events")
	err := pub.Publish(context.Background(), domain.BattleEvent{Type: domain.EventBattleCreated, BattleID: "b1"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	_ = pub.Close()
}

func TestPublishSkipsCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewPublisherWithProducer(producer, "battle-events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, domain.BattleEvent{Type: domain.EventBattleCreated}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	_ = pub.Close()
}
