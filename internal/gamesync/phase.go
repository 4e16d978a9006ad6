package gamesync

import "github.com/benbjohnson/clock"

// Phase is the screen a participant is on.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseQuestion
	PhaseLeaderboard
	PhasePodium
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseQuestion:
		return "question"
	case PhaseLeaderboard:
		return "leaderboard"
	case PhasePodium:
		return "podium"
	}
	return "unknown"
}

// phaseState holds the per-phase guards. Every field resets when a new phase
// or question index is entered.
type phaseState struct {
	phase     Phase
	index     int
	navigated bool
	answered  bool

	checkBudget int
	checkSeq    int
	checkTimer  *clock.Timer
}

func (s *phaseState) enter(p Phase, index int) {
	s.stopCheck()
	seq := s.checkSeq
	*s = phaseState{phase: p, index: index, checkSeq: seq}
}

// tryNavigate claims the single navigation allowed per phase.
func (s *phaseState) tryNavigate() bool {
	if s.navigated {
		return false
	}
	s.navigated = true
	return true
}

func (s *phaseState) releaseNavigate() { s.navigated = false }

// markAnswered claims the single answer allowed per question.
func (s *phaseState) markAnswered() bool {
	if s.answered {
		return false
	}
	s.answered = true
	return true
}

func (s *phaseState) releaseAnswered() { s.answered = false }

func (s *phaseState) stopCheck() {
	if s.checkTimer != nil {
		s.checkTimer.Stop()
		s.checkTimer = nil
	}
}
