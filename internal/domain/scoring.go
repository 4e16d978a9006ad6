package domain

import (
	"math"
	"sort"
)

const (
	BasePoints    = 1000
	MaxSpeedBonus = 500
)

// Score returns the points earned for an answer and whether it was correct.
// A correct answer earns BasePoints plus a speed bonus that decays linearly
// from MaxSpeedBonus at 0ms to nothing at the time limit.
func Score(selected, correct string, timeTakenMs int64, timeLimitSec int) (int, bool) {
	if selected == "" || selected != correct {
		return 0, false
	}
	if timeLimitSec <= 0 {
		return BasePoints, true
	}
	ratio := 1 - float64(timeTakenMs)/float64(timeLimitSec*1000)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return BasePoints + int(math.Round(ratio*MaxSpeedBonus)), true
}

// Rank orders players by total score descending, then by who joined first.
// The input slice is not modified.
func Rank(players []Player) []Player {
	ranked := make([]Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return JoinedBefore(a, b)
	})
	return ranked
}

// JoinedBefore is the roster order: join time, then join sequence, then id.
func JoinedBefore(a, b Player) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	if a.JoinSeq != b.JoinSeq {
		return a.JoinSeq < b.JoinSeq
	}
	return a.ID < b.ID
}

// SortByJoin orders players in place by join order.
func SortByJoin(players []Player) {
	sort.SliceStable(players, func(i, j int) bool { return JoinedBefore(players[i], players[j]) })
}
