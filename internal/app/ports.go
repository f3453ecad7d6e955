package app

import (
	"context"

	"nova-battle-service/internal/domain"
)

// BattleStore persists battle records (in-memory, Redis, Postgres, Mongo).
// Player mutations must be atomic per entry; the service never does
// read-modify-write on the players list.
type BattleStore interface {
	// Create fails with domain.ErrBattleCodeTaken when the code is in use.
	Create(ctx context.Context, battle domain.Battle) error
	GetByID(ctx context.Context, id string) (domain.Battle, error)
	GetByCode(ctx context.Context, code string) (domain.Battle, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Battle, error)
	// AddPlayer appends the player if absent and reports whether it was added.
	AddPlayer(ctx context.Context, battleID string, player domain.Player) (bool, error)
	// UpsertPlayer overwrites or inserts the entry for player.Username.
	UpsertPlayer(ctx context.Context, battleID string, player domain.Player) error
	// TransitionStatus sets to only when the current status is one of from.
	TransitionStatus(ctx context.Context, battleID string, from []domain.Status, to domain.Status) (bool, error)
}

// UserStore is the user profile collaborator (gamification scalars and battle history).
type UserStore interface {
	ApplyBattleResult(ctx context.Context, update domain.ProfileUpdate) error
	// History returns entries newest first.
	History(ctx context.Context, username string, limit, offset int) ([]domain.HistoryEntry, error)
	Stats(ctx context.Context, username string) (domain.UserStats, error)
}

// QuestionBank returns every question carrying at least one of tags.
type QuestionBank interface {
	Questions(ctx context.Context, tags []string) ([]domain.Question, error)
}

// SessionRepository maps session tokens to usernames.
type SessionRepository interface {
	Issue(ctx context.Context, username string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
}

// EventPublisher ships battle events. Failures never fail the request.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.BattleEvent) error
}

// Recorder receives service metrics.
type Recorder interface {
	BattleCreated()
	PlayerJoined()
	Evaluated(accuracy float64)
	BattleFinished()
	Rejected(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) BattleCreated() {}
func (nopRecorder) PlayerJoined() {}
func (nopRecorder) Evaluated(float64) {}
func (nopRecorder) BattleFinished() {}
func (nopRecorder) Rejected(string, error) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.BattleEvent) error { return nil }
