package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"turtleworld.ai/internal/observerproto"
	"turtleworld.ai/internal/sim/world"
)

// Server streams one STEP frame per completed step to spectators. It is
// installed as a step logger, so frames reflect the state a step produced.
type Server struct {
	env     *world.Environment
	worldID string
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	out     chan []byte
	every   uint64
	objects bool
	dropped uint64
}

func NewServer(env *world.Environment, worldID string, logger *log.Logger) *Server {
	return &Server{
		env:     env,
		worldID: worldID,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

// Subscribers reports the number of connected spectators.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// WriteStep fans the step out to subscribers. Slow subscribers lose frames
// instead of stalling the step pipeline.
func (s *Server) WriteStep(entry world.StepLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}

	var plain, full []byte
	for id, sub := range s.subs {
		if entry.Step%sub.every != 0 {
			continue
		}
		var b []byte
		if sub.objects {
			if full == nil {
				full = s.frame(entry, true)
			}
			b = full
		} else {
			if plain == nil {
				plain = s.frame(entry, false)
			}
			b = plain
		}
		select {
		case sub.out <- b:
		default:
			sub.dropped++
			if sub.dropped%100 == 1 {
				s.log.Printf("observer %s: dropped %d frames", id, sub.dropped)
			}
		}
	}
	return nil
}

func (s *Server) frame(entry world.StepLogEntry, withObjects bool) []byte {
	msg := observerproto.StepMsg{
		Type:            observerproto.TypeStep,
		ProtocolVersion: observerproto.Version,
		Step:            entry.Step,
		Time:            entry.Time,
		Expected:        entry.Expected,
		Reported:        entry.Reported,
		TimedOut:        entry.TimedOut,
		Joins:           entry.Joins,
		Leaves:          entry.Leaves,
	}
	for _, b := range s.env.Bodies() {
		pose := b.Pose()
		msg.Turtles = append(msg.Turtles, observerproto.TurtleState{
			ID:       b.ID().String(),
			Pos:      [2]float64{pose.Position.X, pose.Position.Y},
			Heading:  pose.Heading,
			Speed:    pose.Speed,
			Motion:   string(b.LastMotion().Status),
			Semantic: b.Semantic(),
		})
	}
	if withObjects {
		for _, o := range s.env.Objects() {
			msg.Objects = append(msg.Objects, observerproto.ObjectState{
				ID:   o.ID.String(),
				Kind: string(o.Kind),
				Pos:  [2]float64{o.Position.X, o.Position.Y},
			})
		}
	}
	if len(entry.Influences) > 0 {
		msg.Influences = map[string]int{}
		for _, r := range entry.Influences {
			msg.Influences[string(r.Kind)]++
		}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("observer frame step=%d: %v", entry.Step, err)
		return nil
	}
	return b
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		bounds := s.env.Bounds()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.worldID,
			Step:            s.env.Clock().Step(),
			WorldParams: observerproto.WorldParams{
				Width:        bounds.Width,
				Height:       bounds.Height,
				Wrap:         bounds.Wrap,
				SharedCells:  s.env.SharedCells(),
				StepDuration: s.env.Clock().LastStepDuration(),
			},
			ObjectKinds: []string{
				string(world.KindTurtle), string(world.KindObstacle),
				string(world.KindSubstance), string(world.KindBurrow),
			},
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 8)
		s.mu.Lock()
		s.subs[sid] = &subscriber{out: out, every: every(sub), objects: sub.Objects}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					if b == nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			s.mu.Lock()
			if cur := s.subs[sid]; cur != nil {
				cur.every = every(sub)
				cur.objects = sub.Objects
			}
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == observerproto.TypeSubscribe && sub.ProtocolVersion == observerproto.Version
}

func every(sub observerproto.SubscribeMsg) uint64 {
	if sub.Every <= 0 {
		return 1
	}
	if sub.Every > 1000 {
		return 1000
	}
	return uint64(sub.Every)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
