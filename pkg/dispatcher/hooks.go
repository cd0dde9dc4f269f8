package dispatcher

import (
	"context"
	"time"
)

// DispatchHook observes every attempt made by a Dispatcher. Implementations must
// be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, err error)
}

// HookToken is returned by OnDispatchStart and passed back to OnDispatchEnd.
type HookToken interface{}

// DispatchInfo describes one attempt.
type DispatchInfo struct {
	EnvelopeID string
	Service    string
	Method     string
	Mode       string
	Attempt    int
	ArgBytes   int
	// ResultBytes is only set in OnDispatchEnd.
	ResultBytes int
	// Meta is propagated to the remote in the request envelope. Hooks may add
	// trace context to it in OnDispatchStart.
	Meta map[string]string
}

type hookChain []DispatchHook

type chainToken struct {
	tokens []HookToken
	start  time.Time
}

func (c hookChain) start(ctx context.Context, info DispatchInfo) (context.Context, *chainToken) {
	tok := &chainToken{tokens: make([]HookToken, len(c)), start: time.Now()}
	for i, h := range c {
		ctx, tok.tokens[i] = h.OnDispatchStart(ctx, info)
	}
	return ctx, tok
}

func (c hookChain) end(ctx context.Context, tok *chainToken, info DispatchInfo, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].OnDispatchEnd(ctx, tok.tokens[i], info, err)
	}
}
