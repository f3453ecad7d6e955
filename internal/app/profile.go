package app

import (
	"time"

	"nova-battle-service/internal/domain"
)

const (
	xpPerCorrect    = 10
	coinsPerCorrect = 2
	perfectBonus    = 5
	blendWeight     = 0.25
)

func rewards(correct int, accuracy float64, total int) (xp, coins int) {
	xp = correct * xpPerCorrect
	coins = correct * coinsPerCorrect
	if total > 0 && accuracy >= 100 {
		coins += perfectBonus
	}
	return xp, coins
}

// profileUpdate derives the collaborator update. prev is the user's entry before
// this evaluation; resubmit is set when prev already carried a submission.
func profileUpdate(b domain.Battle, prev domain.Player, resubmit bool, a domain.Analytics, rank int, now time.Time, historyCap int) domain.ProfileUpdate {
	xp, coins := rewards(a.CorrectCount, a.Accuracy, a.TotalQuestions)
	if resubmit {
		oldXP, oldCoins := rewards(prev.CorrectCount, prev.Accuracy, a.TotalQuestions)
		xp -= oldXP
		coins -= oldCoins
	}

	return domain.ProfileUpdate{
		Username:   prev.Username,
		BattleID:   b.ID,
		XPDelta:    xp,
		CoinsDelta: coins,
		First:      !resubmit,
		Blend:      blendWeight,
		Accuracy:   a.Accuracy,
		Mastery:    mastery(a.TagWisePerformance),
		Focus:      focus(a),
		History: domain.HistoryEntry{
			BattleID:       b.ID,
			BattleName:     b.Name,
			Date:           now,
			Rank:           rank,
			Score:          a.TotalScore,
			Accuracy:       a.Accuracy,
			CorrectCount:   a.CorrectCount,
			TotalQuestions: a.TotalQuestions,
		},
		HistoryCap: historyCap,
	}
}

// mastery is the mean per-tag accuracy.
func mastery(tags []domain.TagPerformance) float64 {
	if len(tags) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tags {
		sum += t.Accuracy
	}
	return round1(sum / float64(len(tags)))
}

// focus is the share of questions answered before the timer ran out.
func focus(a domain.Analytics) float64 {
	answered := 0
	for _, r := range a.Results {
		if !r.IsAuto && r.Answer != "" {
			answered++
		}
	}
	return percent(answered, a.TotalQuestions)
}
