package app

import (
	"sort"

	"nova-battle-service/internal/domain"
)

// Rank returns a sorted copy of players with 1-based ranks assigned.
// Order: score desc, accuracy desc, earlier submission, then username.
func Rank(players []domain.Player) []domain.Player {
	ranked := make([]domain.Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranksAbove(ranked[i], ranked[j])
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func ranksAbove(a, b domain.Player) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	switch {
	case a.SubmittedAt != nil && b.SubmittedAt != nil:
		if !a.SubmittedAt.Equal(*b.SubmittedAt) {
			return a.SubmittedAt.Before(*b.SubmittedAt)
		}
	case a.SubmittedAt != nil:
		return true
	case b.SubmittedAt != nil:
		return false
	}
	return a.Username < b.Username
}

// Summarize aggregates the player list. An empty battle yields zeros.
func Summarize(players []domain.Player, totalQuestions int) domain.Performance {
	perf := domain.Performance{
		TotalPlayers:   len(players),
		TotalQuestions: totalQuestions,
	}
	if len(players) == 0 {
		return perf
	}
	perf.HighestScore = players[0].Score
	perf.LowestScore = players[0].Score
	sum := 0
	for _, p := range players {
		if p.Score > perf.HighestScore {
			perf.HighestScore = p.Score
		}
		if p.Score < perf.LowestScore {
			perf.LowestScore = p.Score
		}
		sum += p.Score
	}
	perf.AverageScore = round1(float64(sum) / float64(len(players)))
	return perf
}
