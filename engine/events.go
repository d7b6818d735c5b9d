package engine

import (
	"time"

	"smabot/broker"
	"smabot/strategy"
)

// EventType tags the entries of a run's event stream.
type EventType string

const (
	EventSignal EventType = "signal"
	EventFill   EventType = "fill"
	EventState  EventType = "state"
	EventError  EventType = "error"
)

// Event is one entry in a run's ordered notification stream. Seq increases
// by one per event so a consumer can detect gaps after a dropped event.
type Event struct {
	Seq  uint64
	Time time.Time
	Type EventType

	Signal *strategy.Signal
	Fill   *broker.Fill
	State  State
	Err    string
}

const eventBuffer = 256

// emit publishes an event without ever blocking the loop. A slow consumer
// loses the oldest buffered entries; Seq exposes the gap.
func (r *Run) emit(ev Event) {
	r.evmu.Lock()
	defer r.evmu.Unlock()

	if r.evClosed {
		return
	}
	r.seq++
	ev.Seq = r.seq
	select {
	case r.events <- ev:
	default:
		select {
		case <-r.events:
		default:
		}
		select {
		case r.events <- ev:
		default:
		}
	}
}

func (r *Run) closeEvents() {
	r.evmu.Lock()
	defer r.evmu.Unlock()
	if !r.evClosed {
		r.evClosed = true
		close(r.events)
	}
}

// Events returns the run's ordered event stream. The channel is closed when
// the run reaches a terminal state.
func (r *Run) Events() <-chan Event {
	return r.events
}
