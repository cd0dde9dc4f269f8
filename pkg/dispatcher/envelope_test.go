package dispatcher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

func TestNewEnvelope_CopiesArgs(t *testing.T) {
	args := []byte{0x01, 0x02}
	env := NewEnvelope("inventory", "addItem", schema.ModeUpdate, args, principal.Anonymous)
	args[0] = 0xff

	if got := env.Args(); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("dispatcher:envelope_test - envelope args changed with caller slice: %x", got)
	}
	got := env.Args()
	got[1] = 0xff
	if !bytes.Equal(env.Args(), []byte{0x01, 0x02}) {
		t.Error("dispatcher:envelope_test - Args must return a copy")
	}
	if env.State() != StateIdle || env.Attempt != 1 || env.ID == "" {
		t.Errorf("dispatcher:envelope_test - unexpected initial envelope: state=%s attempt=%d id=%q", env.State(), env.Attempt, env.ID)
	}
}

func TestEnvelope_Transitions(t *testing.T) {
	env := NewEnvelope("access", "hasAccess", schema.ModeQuery, nil, principal.Anonymous)

	if err := env.transition(StateIdle, StateSent); err != nil {
		t.Fatalf("dispatcher:envelope_test - Idle->Sent failed: %v", err)
	}
	if err := env.transition(StateSent, StateSucceeded); err != nil {
		t.Fatalf("dispatcher:envelope_test - Sent->Succeeded failed: %v", err)
	}
	if !env.State().Terminal() {
		t.Error("dispatcher:envelope_test - succeeded should be terminal")
	}
	for _, from := range []State{StateIdle, StateSent} {
		if err := env.transition(from, StateSent); !errors.Is(err, rpcerr.ErrEnvelopeState) {
			t.Errorf("dispatcher:envelope_test - expected ENVELOPE_STATE leaving a terminal state, got %v", err)
		}
	}
	if env.State() != StateSucceeded {
		t.Errorf("dispatcher:envelope_test - terminal state changed to %s", env.State())
	}
}

func TestEnvelope_Retry(t *testing.T) {
	caller := principal.MustParse("2vxsx-fae")
	env := NewEnvelope("inventory", "listItems", schema.ModeQuery, []byte{0x00}, caller)
	_ = env.transition(StateIdle, StateSent)
	_ = env.transition(StateSent, StateFailed)

	next := env.Retry()
	if next.ID == env.ID {
		t.Error("dispatcher:envelope_test - retry must use a fresh ID")
	}
	if next.State() != StateIdle || next.Attempt != 2 {
		t.Errorf("dispatcher:envelope_test - retry state=%s attempt=%d", next.State(), next.Attempt)
	}
	if next.Service != env.Service || next.Method != env.Method || next.Mode != env.Mode || !next.Caller.Equal(caller) {
		t.Error("dispatcher:envelope_test - retry must keep the call identity")
	}
	if !bytes.Equal(next.Args(), env.Args()) {
		t.Error("dispatcher:envelope_test - retry must keep the args")
	}
	if env.State() != StateFailed {
		t.Error("dispatcher:envelope_test - original envelope must stay failed")
	}
}

func TestEnvelope_Request(t *testing.T) {
	env := NewEnvelope("inventory", "addItem", schema.ModeUpdate, []byte{0x02}, principal.Anonymous)
	req := env.request()
	if req.ID != env.ID || req.Service != "inventory" || req.Method != "addItem" || req.Mode != "update" {
		t.Errorf("dispatcher:envelope_test - unexpected request %+v", req)
	}
	if req.Caller != "2vxsx-fae" {
		t.Errorf("dispatcher:envelope_test - caller = %q", req.Caller)
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{StateIdle: "idle", StateSent: "sent", StateSucceeded: "succeeded", StateFailed: "failed", State(9): "state(9)"}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("dispatcher:envelope_test - %d.String() = %q, want %q", int(s), s.String(), w)
		}
	}
}
