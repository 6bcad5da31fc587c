package ws

import (
	"encoding/json"
	"sync"

	"turtleworld.ai/internal/protocol"
	"turtleworld.ai/internal/sim/world"
)

type session struct {
	id   string
	name string
	body *world.TurtleBody

	// out carries replies; full queues drop the reply.
	out chan []byte

	// Perceptions are latest-wins: a slow reader skips steps instead of
	// stalling the coordinator.
	mu      sync.Mutex
	latest  *world.PerceptionEvent
	ready   chan struct{}
	dropped uint64
}

func (s *session) offer(ev world.PerceptionEvent) {
	s.mu.Lock()
	if s.latest != nil {
		s.dropped++
	}
	s.latest = &ev
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *session) take() (world.PerceptionEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return world.PerceptionEvent{}, false
	}
	ev := *s.latest
	s.latest = nil
	return ev, true
}

func (s *session) sendError(code, msg string, step uint64) {
	b, err := json.Marshal(protocol.NewError(code, msg, step))
	if err != nil {
		return
	}
	select {
	case s.out <- b:
	default:
	}
}
