package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeBaseRoutesByType(t *testing.T) {
	raw := []byte(`{"type":"DECIDE","protocol_version":"1.0","world":"overworld","pos":[1.5,64.0,-3.5],"kind":"ZOMBIE","natural":true}`)

	base, err := DecodeBase(raw)
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	if base.Type != TypeDecide || base.ProtocolVersion != Version {
		t.Fatalf("unexpected base: %+v", base)
	}

	var msg DecideMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode decide: %v", err)
	}
	if msg.World != "overworld" || msg.Kind != "ZOMBIE" || !msg.Natural {
		t.Fatalf("unexpected decide: %+v", msg)
	}
	if msg.Pos != [3]float64{1.5, 64.0, -3.5} {
		t.Fatalf("unexpected pos: %v", msg.Pos)
	}
}

func TestDecodeBaseRejectsGarbage(t *testing.T) {
	if _, err := DecodeBase([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}
