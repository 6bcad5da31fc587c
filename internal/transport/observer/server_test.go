package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"turtleworld.ai/internal/observerproto"
	"turtleworld.ai/internal/sim/geom"
	"turtleworld.ai/internal/sim/world"
)

func TestObserverStreamsSteps(t *testing.T) {
	env, err := world.New(world.Config{Width: 10, Height: 10, StepTimeout: 20 * time.Millisecond, Seed: 3})
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	srv := NewServer(env, "w", log.New(io.Discard, "", 0))
	env.SetStepLogger(srv)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe", srv.WSHandler())
	mux.HandleFunc("/admin/v1/observer/bootstrap", srv.BootstrapHandler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	var boot observerproto.BootstrapResponse
	err = json.NewDecoder(resp.Body).Decode(&boot)
	resp.Body.Close()
	if err != nil || boot.WorldID != "w" || boot.WorldParams.Width != 10 {
		t.Fatalf("bootstrap = %+v err=%v", boot, err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/observe", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, Objects: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not registered")
		}
		time.Sleep(time.Millisecond)
	}

	pos := geom.Pt(4, 5)
	if _, err := env.CreateBody(world.BodySpec{Position: &pos, DisablePerception: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.AddObject(world.Object{Kind: world.KindBurrow}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg observerproto.StepMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeStep || msg.Step != 0 || !msg.TimedOut {
		t.Fatalf("frame = %+v", msg)
	}
	if len(msg.Turtles) != 1 || msg.Turtles[0].Pos != [2]float64{4, 5} || len(msg.Joins) != 1 {
		t.Fatalf("turtles = %+v joins=%v", msg.Turtles, msg.Joins)
	}
	if len(msg.Objects) != 1 || msg.Objects[0].Kind != "burrow" {
		t.Fatalf("objects = %+v", msg.Objects)
	}
}

func TestObserverRejectsBadSubscribe(t *testing.T) {
	if _, ok := parseSubscribe([]byte(`{"type":"HELLO","protocol_version":"0.1"}`)); ok {
		t.Fatalf("expected reject")
	}
	sub, ok := parseSubscribe([]byte(`{"type":"SUBSCRIBE","protocol_version":"0.1","every":5000}`))
	if !ok || every(sub) != 1000 {
		t.Fatalf("sub = %+v ok=%v", sub, ok)
	}
}
