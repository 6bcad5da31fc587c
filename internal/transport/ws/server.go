package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"turtleworld.ai/internal/protocol"
	"turtleworld.ai/internal/sim/frustum"
	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/world"
)

// Server embodies remote agents: each websocket session owns one body.
type Server struct {
	env *world.Environment
	log *log.Logger

	// TuningDigest is echoed in WELCOME when set.
	TuningDigest string

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
	seq      atomic.Uint64

	removePublisher func()
}

func NewServer(env *world.Environment, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		env:      env,
		log:      logger,
		sessions: map[uuid.UUID]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	s.removePublisher = env.AddPublisher(world.PublisherFunc(s.publish))
	return s
}

// Close stops routing perceptions to sessions.
func (s *Server) Close() { s.removePublisher() }

// Sessions returns the number of connected agents.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// publish runs on the environment coordinator and never blocks.
func (s *Server) publish(ev world.PerceptionEvent) {
	s.mu.RLock()
	sess := s.sessions[ev.ObserverID]
	s.mu.RUnlock()
	if sess != nil {
		sess.offer(ev)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.log.Printf("session %s open agent=%s name=%q", sess.id, sess.body.ID(), sess.name)
		defer s.leave(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					if err := writeRaw(conn, b); err != nil {
						return
					}
				case <-sess.ready:
					ev, ok := sess.take()
					if !ok {
						continue
					}
					if err := writeJSON(conn, perceptionMsg(sess.body.ID(), ev)); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			s.handleMessage(sess, msg)
		}
	}
}

func (s *Server) handleMessage(sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		sess.sendError(protocol.ErrProtoBadRequest, "malformed json", 0)
		return
	}
	if base.Type != protocol.TypeAct {
		sess.sendError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type, 0)
		return
	}
	var act protocol.ActMsg
	if err := protocol.Decode(protocol.TypeAct, msg, &act); err != nil {
		sess.sendError(protocol.ErrBadRequest, err.Error(), act.Step)
		return
	}
	if act.ProtocolVersion != protocol.Version {
		sess.sendError(protocol.ErrProtoVersion, "bad protocol_version", act.Step)
		return
	}
	p, err := sess.body.Perception()
	if err != nil {
		sess.sendError(protocol.ErrNotReady, "no perception yet", act.Step)
		return
	}
	if act.Step < p.Step {
		sess.sendError(protocol.ErrStale, fmt.Sprintf("step %d is behind %d", act.Step, p.Step), act.Step)
		return
	}
	if err := applyOps(sess.body, act.Ops); err != nil {
		sess.sendError(protocol.ErrBadRequest, err.Error(), act.Step)
	}
	if act.Synchronize() {
		sess.body.SynchronizeStep(p.Step)
	}
}

func applyOps(b *world.TurtleBody, ops []protocol.ActOp) error {
	for i, op := range ops {
		switch op.Op {
		case protocol.OpMove:
			if op.Dir == nil {
				return fmt.Errorf("op %d: MOVE needs dir", i)
			}
			b.Move(geom.V(op.Dir[0], op.Dir[1]), op.ChangeHeading)
		case protocol.OpMoveForward:
			b.MoveForward(stepsOrOne(op.N))
		case protocol.OpMoveBackward:
			b.MoveBackward(stepsOrOne(op.N))
		case protocol.OpTurnLeft:
			b.TurnLeft(op.Radians)
		case protocol.OpTurnRight:
			b.TurnRight(op.Radians)
		case protocol.OpSetHeading:
			if op.Dir != nil {
				b.SetHeadingVector(geom.V(op.Dir[0], op.Dir[1]))
			} else {
				b.SetHeading(op.Radians)
			}
		case protocol.OpPickUp:
			b.PickUp(world.ObjectKind(op.Kind))
		case protocol.OpPickUpSemantic:
			b.PickUpSemantic(op.Semantic)
		case protocol.OpDropOff:
			kind := world.ObjectKind(op.Kind)
			if !kind.Valid() || kind == world.KindTurtle {
				return fmt.Errorf("op %d: cannot drop %q", i, op.Kind)
			}
			b.DropOff(world.Object{Kind: kind, Semantic: op.Semantic})
		case protocol.OpSetSemantic:
			b.SetSemantic(op.Semantic)
		default:
			return fmt.Errorf("op %d: unknown op %q", i, op.Op)
		}
	}
	return nil
}

func stepsOrOne(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := protocol.Decode(protocol.TypeHello, msg, &hello); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrBadRequest, err.Error(), 0))
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version", 0))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	name := strings.TrimSpace(hello.AgentName)
	if name == "" {
		name = "agent"
	}

	spec, err := bodySpec(hello)
	if err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrBadRequest, err.Error(), 0))
		return nil
	}
	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	sess := &session{
		id:    fmt.Sprintf("S%d", s.seq.Add(1)),
		name:  name,
		out:   make(chan []byte, maxQ),
		ready: make(chan struct{}, 1),
	}

	// The session lock spans CreateBody so the first perception finds the
	// session registered.
	s.mu.Lock()
	body, err := s.env.CreateBody(spec)
	if err == nil {
		sess.body = body
		s.sessions[body.ID()] = sess
	}
	s.mu.Unlock()
	if err != nil {
		code := protocol.ErrInternal
		switch {
		case errors.Is(err, world.ErrSpawnFailure):
			code = protocol.ErrSpawnFailed
		case errors.Is(err, world.ErrStopped):
			code = protocol.ErrStopped
		case errors.Is(err, world.ErrDuplicateBodyID):
			code = protocol.ErrBadRequest
		}
		s.log.Printf("join %q rejected: %v", name, err)
		_ = writeJSON(conn, protocol.NewError(code, err.Error(), 0))
		return nil
	}

	b := s.env.Bounds()
	clk := s.env.Clock().Read()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		AgentID:         body.ID().String(),
		WorldParams: protocol.WorldParams{
			Width:             b.Width,
			Height:            b.Height,
			Wrap:              b.Wrap,
			DiscardOutOfRange: b.Discard,
			SharedCells:       s.env.SharedCells(),
			StepDuration:      clk.LastStepDuration,
			StepTimeoutMs:     s.env.StepTimeout().Milliseconds(),
			Step:              clk.Step,
		},
		TuningDigest: s.TuningDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.leave(sess)
		return nil
	}
	return sess
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.body.ID())
	s.mu.Unlock()
	if err := s.env.RemoveBody(sess.body.ID()); err != nil && !errors.Is(err, world.ErrBodyNotFound) {
		s.log.Printf("session %s remove body: %v", sess.id, err)
	}
	sess.mu.Lock()
	dropped := sess.dropped
	sess.mu.Unlock()
	s.log.Printf("session %s closed agent=%s dropped_perceptions=%d", sess.id, sess.body.ID(), dropped)
}

func bodySpec(h protocol.HelloMsg) (world.BodySpec, error) {
	spec := world.BodySpec{Semantic: h.Semantic, Heading: h.Heading}
	if h.Position != nil {
		p := geom.Pt(h.Position[0], h.Position[1])
		spec.Position = &p
	}
	if h.Perception != nil {
		if h.Perception.Kind == "none" {
			spec.DisablePerception = true
		} else {
			f, err := frustum.New(h.Perception.Kind, h.Perception.Radius)
			if err != nil {
				return spec, err
			}
			spec.Frustum = f
		}
	}
	return spec, nil
}

func perceptionMsg(id uuid.UUID, ev world.PerceptionEvent) protocol.PerceptionMsg {
	m := protocol.PerceptionMsg{
		Type:            protocol.TypePerception,
		ProtocolVersion: protocol.Version,
		Step:            ev.Step,
		Time:            ev.Timestamp,
		StepDuration:    ev.StepDuration,
		AgentID:         id.String(),
		Self: protocol.SelfObs{
			Pos:      pos(ev.Position),
			Heading:  ev.Heading,
			Speed:    ev.Speed,
			Semantic: ev.Semantic,
		},
		Motion:  protocol.MotionObs{Status: string(ev.Motion.Status), Boundary: string(ev.Motion.Boundary)},
		Turtles: make([]protocol.TurtleObs, 0, len(ev.Turtles)),
		Objects: make([]protocol.ObjectObs, 0, len(ev.Objects)),
	}
	for _, t := range ev.Turtles {
		rel := t.RelativePosition()
		m.Turtles = append(m.Turtles, protocol.TurtleObs{
			ID:       t.ID.String(),
			Pos:      pos(t.Position),
			Rel:      [2]float64{rel.X, rel.Y},
			Heading:  t.Heading,
			Speed:    t.Speed,
			Semantic: t.Semantic,
		})
	}
	for _, o := range ev.Objects {
		m.Objects = append(m.Objects, objectObs(o))
	}
	for _, p := range ev.Picked {
		m.Picked = append(m.Picked, objectObs(p.Object))
	}
	return m
}

func objectObs(o world.Object) protocol.ObjectObs {
	return protocol.ObjectObs{ID: o.ID.String(), Kind: string(o.Kind), Pos: pos(o.Position), Semantic: o.Semantic}
}

func pos(p geom.Point) [2]float64 { return [2]float64{p.X, p.Y} }

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
