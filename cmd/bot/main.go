package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"turtleworld.ai/internal/protocol"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "agent name")
		frustum   = flag.String("frustum", "square", "perception shape: square, circle, cross or none")
		radius    = flag.Float64("radius", 5, "perception radius")
		dropEvery = flag.Int("drop_every", 25, "drop a substance every n steps (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
		Semantic:        *name,
		Perception:      &protocol.FrustumReq{Kind: *frustum, Radius: *radius},
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	w := walker{rng: rand.New(rand.NewSource(time.Now().UnixNano())), dropEvery: uint64(*dropEvery)}
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var wm protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &wm); err != nil {
				continue
			}
			logger.Printf("WELCOME agent_id=%s world=%dx%d wrap=%v step=%d", wm.AgentID, wm.WorldParams.Width, wm.WorldParams.Height, wm.WorldParams.Wrap, wm.WorldParams.Step)

		case protocol.TypePerception:
			var p protocol.PerceptionMsg
			if err := json.Unmarshal(msg, &p); err != nil {
				continue
			}
			if p.Step%100 == 0 {
				logger.Printf("step=%d pos=%v turtles=%d objects=%d motion=%s/%s", p.Step, p.Self.Pos, len(p.Turtles), len(p.Objects), p.Motion.Status, p.Motion.Boundary)
			}
			if err := conn.WriteJSON(w.act(p)); err != nil {
				logger.Printf("send ACT: %v", err)
				return
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR %s: %s", e.Code, e.Message)
			}
		}
	}
}

// walker wanders, picks up substances it stands on and now and then leaves
// one behind.
type walker struct {
	rng       *rand.Rand
	dropEvery uint64
}

func (w walker) act(p protocol.PerceptionMsg) protocol.ActMsg {
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Step:            p.Step,
	}
	for _, o := range p.Objects {
		if o.Kind == "substance" && o.Pos == p.Self.Pos {
			act.Ops = append(act.Ops, protocol.ActOp{Op: protocol.OpPickUp, Kind: "substance"})
			break
		}
	}
	if w.dropEvery > 0 && p.Step%w.dropEvery == w.dropEvery-1 {
		act.Ops = append(act.Ops, protocol.ActOp{Op: protocol.OpDropOff, Kind: "substance", Semantic: "trail"})
	}
	// Blocked moves come back as NO_MOTION; turn around.
	if p.Motion.Status == "NO_MOTION" {
		act.Ops = append(act.Ops, protocol.ActOp{Op: protocol.OpTurnRight, Radians: math.Pi})
	} else if w.rng.Intn(4) == 0 {
		act.Ops = append(act.Ops, protocol.ActOp{Op: protocol.OpTurnLeft, Radians: float64(w.rng.Intn(3)-1) * math.Pi / 2})
	}
	act.Ops = append(act.Ops, protocol.ActOp{Op: protocol.OpMoveForward, N: 1})
	return act
}
