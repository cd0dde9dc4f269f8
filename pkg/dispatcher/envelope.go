// Package dispatcher sends encoded calls to remote services and reports typed failures.
package dispatcher

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// State is the lifecycle position of a CallEnvelope.
type State int

const (
	StateIdle State = iota
	StateSent
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CallEnvelope is one in-flight call. It is owned by a single invocation and moves
// Idle -> Sent -> Succeeded|Failed exactly once; a retry uses a fresh envelope.
type CallEnvelope struct {
	ID      string
	Service string
	Method  string
	Mode    schema.Mode
	Caller  principal.Principal
	// Attempt counts envelopes built for the same logical call, starting at 1.
	Attempt int

	args []byte

	mu    sync.Mutex
	state State
}

// NewEnvelope builds an Idle envelope. args is copied so later changes by the
// caller cannot reach the envelope.
func NewEnvelope(service, method string, mode schema.Mode, args []byte, caller principal.Principal) *CallEnvelope {
	own := make([]byte, len(args))
	copy(own, args)
	return &CallEnvelope{
		ID:      uuid.NewString(),
		Service: service,
		Method:  method,
		Mode:    mode,
		Caller:  caller,
		Attempt: 1,
		args:    own,
	}
}

// Args returns a copy of the encoded argument tuple.
func (e *CallEnvelope) Args() []byte {
	out := make([]byte, len(e.args))
	copy(out, e.args)
	return out
}

// State returns the current lifecycle state.
func (e *CallEnvelope) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsQuery reports whether the envelope carries a side-effect-free call.
func (e *CallEnvelope) IsQuery() bool {
	return e.Mode == schema.ModeQuery
}

// Retry builds a fresh Idle envelope for the same call with a new ID.
func (e *CallEnvelope) Retry() *CallEnvelope {
	next := NewEnvelope(e.Service, e.Method, e.Mode, e.args, e.Caller)
	next.Attempt = e.Attempt + 1
	return next
}

func (e *CallEnvelope) transition(from, to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return rpcerr.New(rpcerr.CodeEnvelopeState, "envelope %s is %s, cannot move to %s", e.ID, e.state, to)
	}
	e.state = to
	return nil
}

func (e *CallEnvelope) request() *commsutil.Request {
	return &commsutil.Request{
		ID:      e.ID,
		Service: e.Service,
		Method:  e.Method,
		Mode:    string(e.Mode),
		Caller:  e.Caller.String(),
		Args:    e.args,
		Attempt: e.Attempt,
	}
}
