package protocol_test

import (
	"testing"

	"turtleworld.ai/internal/protocol"
)

func TestValidateSamples(t *testing.T) {
	valid := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","agent_name":"bot1"}`},
		{protocol.TypeHello, `{
		  "type":"HELLO","protocol_version":"1.0","agent_name":"bot2",
		  "semantic":{"role":"forager"},
		  "perception":{"kind":"circle","radius":5},
		  "position":[3,4],
		  "capabilities":{"max_queue":8}
		}`},
		{protocol.TypeAct, `{"type":"ACT","protocol_version":"1.0","step":3,"ops":[]}`},
		{protocol.TypeAct, `{
		  "type":"ACT","protocol_version":"1.0","step":4,"sync":false,
		  "ops":[
		    {"op":"MOVE","dir":[1,0],"change_heading":true},
		    {"op":"TURN_LEFT","radians":1.57},
		    {"op":"PICK_UP","kind":"substance"},
		    {"op":"SET_SEMANTIC","semantic":"carrying"}
		  ]
		}`},
		{protocol.TypeWelcome, `{"anything":"goes"}`},
	}
	for _, c := range valid {
		if err := protocol.Validate(c.typ, []byte(c.raw)); err != nil {
			t.Fatalf("validate %s %s: %v", c.typ, c.raw, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	invalid := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0"}`},
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","agent_name":"a","perception":{"kind":"cone"}}`},
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","agent_name":"a","position":[1]}`},
		{protocol.TypeAct, `{"type":"ACT","protocol_version":"1.0","ops":[]}`},
		{protocol.TypeAct, `{"type":"ACT","protocol_version":"1.0","step":1,"ops":[{"op":"FLY"}]}`},
		{protocol.TypeAct, `{"type":"ACT","protocol_version":"1.0","step":1,"ops":[{"op":"MOVE"}]}`},
		{protocol.TypeAct, `{"type":"ACT","protocol_version":"1.0","step":1,"ops":[{"op":"PICK_UP","kind":"turtle"}]}`},
		{protocol.TypeAct, `not json`},
	}
	for _, c := range invalid {
		if err := protocol.Validate(c.typ, []byte(c.raw)); err == nil {
			t.Fatalf("expected %s to be rejected: %s", c.typ, c.raw)
		}
	}
}

func TestDecodeAct(t *testing.T) {
	var act protocol.ActMsg
	raw := []byte(`{"type":"ACT","protocol_version":"1.0","step":2,"ops":[{"op":"MOVE_FORWARD","n":2}]}`)
	if err := protocol.Decode(protocol.TypeAct, raw, &act); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !act.Synchronize() || len(act.Ops) != 1 || act.Ops[0].N != 2 {
		t.Fatalf("act = %+v", act)
	}
}
