package domain

import "time"

// ProfileUpdate is what the evaluation hands to the user collaborator after scoring.
// Deltas are relative to the user's previous submission for the same battle, so
// re-evaluating never double-counts XP or coins.
type ProfileUpdate struct {
	Username   string
	BattleID   string
	XPDelta    int
	CoinsDelta int

	// First is true only for the user's first submission in this battle. Scores
	// are blended and battlesPlayed is incremented only then.
	First    bool
	Blend    float64 // weight of the new sample, 0..1
	Accuracy float64
	Mastery  float64
	Focus    float64

	History    HistoryEntry // replaces any entry with the same BattleID
	HistoryCap int
}

// BlendScore folds sample into current. A profile with no battles takes the sample as is.
func BlendScore(current, sample, weight float64, battlesPlayed int) float64 {
	if battlesPlayed <= 0 {
		return sample
	}
	return current*(1-weight) + sample*weight
}

// EventType names a battle event published to the event stream.
type EventType string

const (
	EventBattleCreated   EventType = "battle.created"
	EventPlayerJoined    EventType = "battle.joined"
	EventPlayerEvaluated EventType = "battle.evaluated"
	EventBattleFinished  EventType = "battle.finished"
)

// BattleEvent is a lifecycle notification for downstream consumers.
type BattleEvent struct {
	Type       EventType `json:"type"`
	BattleID   string    `json:"battleId"`
	BattleCode string    `json:"battleCode"`
	Username   string    `json:"username,omitempty"`
	Score      int       `json:"score,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}
