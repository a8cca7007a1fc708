// Package progression turns XP awards into progress-bar percentages.
//
// Player XP is cumulative and follows a quadratic level curve. Companion (card)
// XP is relative to the card's current level and resets on level-up, so the two
// targets use different formulas and must not be mixed.
package progression

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"focusquest/internal/domain"
)

// Bar is a progress-bar animation range, both ends in [0,100].
type Bar struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

var capped = Bar{From: 100, To: 100}

// ThresholdForLevel is the cumulative XP at which a player reaches level.
func ThresholdForLevel(level int) int {
	return (level - 1) * (level - 1) * 100
}

// ThresholdForNextLevel is the cumulative XP needed to leave level.
func ThresholdForNextLevel(level int) int {
	return level * level * 100
}

// LevelForXP inverts the level curve: the highest level whose threshold is
// at or below xp.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 1
	}
	level := int(math.Floor(math.Sqrt(float64(xp)/100))) + 1
	// guard float rounding at exact thresholds
	for ThresholdForLevel(level) > xp {
		level--
	}
	for ThresholdForNextLevel(level) <= xp {
		level++
	}
	return level
}

// PlayerBar computes the bar for a player holding currentXP at level who is
// awarded amount.
func PlayerBar(currentXP, level, amount int) Bar {
	floor := ThresholdForLevel(level)
	span := ThresholdForNextLevel(level) - floor
	if span <= 0 {
		return capped
	}
	return Bar{
		From: percent(currentXP-floor, span),
		To:   percent(currentXP+amount-floor, span),
	}
}

// CompanionBar computes the bar for a card whose level-relative XP is cardXP
// after an award of amount.
func CompanionBar(cardXP, cardXPForNext, amount int, levelUp bool) Bar {
	if cardXPForNext <= 0 {
		return capped
	}
	bar := Bar{From: percent(cardXP-amount, cardXPForNext)}
	if levelUp {
		bar.To = 100
	} else {
		bar.To = percent(cardXP, cardXPForNext)
	}
	return bar
}

func percent(part, whole int) float64 {
	return lo.Clamp(float64(part)/float64(whole)*100, 0, 100)
}

// PlayerEvent builds a player toast. currentXP and level are the totals
// before the award.
func PlayerEvent(amount, currentXP, level int, levelUp bool, now time.Time) domain.ProgressionEvent {
	bar := PlayerBar(currentXP, level, amount)
	return domain.ProgressionEvent{
		ID:          uuid.NewString(),
		Target:      domain.TargetPlayer,
		Amount:      amount,
		CurrentXP:   currentXP,
		Level:       level,
		LevelUp:     levelUp,
		FromPercent: bar.From,
		ToPercent:   bar.To,
		CreatedAt:   now,
	}
}

// CompanionEvent builds a card toast from the companion part of an award.
func CompanionEvent(c domain.CompanionAward, now time.Time) domain.ProgressionEvent {
	bar := CompanionBar(c.CardXP, c.CardXPForNext, c.XPEarned, c.LevelUp)
	return domain.ProgressionEvent{
		ID:            uuid.NewString(),
		Target:        domain.TargetCompanion,
		Amount:        c.XPEarned,
		CardXP:        c.CardXP,
		CardXPForNext: c.CardXPForNext,
		Level:         c.Level,
		LevelUp:       c.LevelUp,
		CardName:      c.Name,
		CardEmoji:     c.Emoji,
		FromPercent:   bar.From,
		ToPercent:     bar.To,
		CreatedAt:     now,
	}
}

// Events expands an award into its toasts: the player event first, then the
// companion event. stats are the player's totals before the award.
func Events(a domain.Award, stats domain.PlayerStats, source string, now time.Time) []domain.ProgressionEvent {
	var out []domain.ProgressionEvent
	if a.XPEarned > 0 {
		ev := PlayerEvent(a.XPEarned, stats.XP, stats.Level, a.LevelUp, now)
		ev.Source = source
		out = append(out, ev)
	}
	if a.Companion != nil {
		ev := CompanionEvent(*a.Companion, now)
		ev.Source = source
		out = append(out, ev)
	}
	return out
}

// Advance applies an award to the player's totals.
func Advance(stats domain.PlayerStats, a domain.Award) domain.PlayerStats {
	if a.XPEarned <= 0 {
		return stats
	}
	stats.XP += a.XPEarned
	switch {
	case a.NewLevel > 0:
		stats.Level = a.NewLevel
	default:
		stats.Level = lo.Max([]int{stats.Level, LevelForXP(stats.XP)})
	}
	return stats
}
