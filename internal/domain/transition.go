package domain

import (
	"fmt"
	"time"
)

// EventKind names a lobby lifecycle event.
type EventKind int

const (
	EventGenerationRequested EventKind = iota + 1
	EventQuestionsReady
	EventGenerationFailed
	EventStart
	EventAdvance
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventGenerationRequested:
		return "generation_requested"
	case EventQuestionsReady:
		return "questions_ready"
	case EventGenerationFailed:
		return "generation_failed"
	case EventStart:
		return "start"
	case EventAdvance:
		return "advance"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is applied to a lobby by Transition. FromIndex is only used by EventAdvance.
type Event struct {
	Kind      EventKind
	FromIndex int
}

// Transition applies ev to l and returns the next lobby state. It is the only
// place lobby status and question index are computed.
func Transition(l Lobby, ev Event, now time.Time) (Lobby, error) {
	next := l
	switch ev.Kind {
	case EventGenerationRequested:
		if l.Status != StatusWaiting {
			return l, invalid(l, ev)
		}
		next.Status = StatusGenerating
	case EventQuestionsReady:
		if l.Status != StatusGenerating {
			return l, invalid(l, ev)
		}
		next.Status = StatusReady
	case EventGenerationFailed:
		if l.Status != StatusGenerating {
			return l, invalid(l, ev)
		}
		next.Status = StatusWaiting
	case EventStart:
		if l.Status != StatusReady {
			return l, fmt.Errorf("%w: status is %s", ErrLobbyNotReady, l.Status)
		}
		next.Status = StatusPlaying
		next.CurrentQuestionIndex = 0
		next.StartedAt = timePtr(now)
		next.QuestionStartedAt = timePtr(now)
	case EventAdvance:
		if l.Status != StatusPlaying {
			return l, invalid(l, ev)
		}
		if l.CurrentQuestionIndex != ev.FromIndex {
			return l, fmt.Errorf("%w: at %d, asked to advance from %d", ErrStaleIndex, l.CurrentQuestionIndex, ev.FromIndex)
		}
		if ev.FromIndex+1 >= l.NumQuestions {
			next.Status = StatusFinished
			next.EndedAt = timePtr(now)
			break
		}
		next.CurrentQuestionIndex = ev.FromIndex + 1
		next.QuestionStartedAt = timePtr(now)
	case EventEnd:
		if l.Status != StatusPlaying {
			return l, invalid(l, ev)
		}
		next.Status = StatusFinished
		next.EndedAt = timePtr(now)
	default:
		return l, invalid(l, ev)
	}
	return next, nil
}

func invalid(l Lobby, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind, l.Status)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
