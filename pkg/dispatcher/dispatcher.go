package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/events"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

const logPrefix = "dispatcher:dispatch"

// DefaultCallTimeout bounds the wait for a single attempt.
const DefaultCallTimeout = 10 * time.Second

// Transport carries one request to its remote service and returns the reply.
// Errors should be *rpcerr.Error values with TRANSPORT_UNAVAILABLE or TIMEOUT;
// anything else is treated as TRANSPORT_UNAVAILABLE.
type Transport interface {
	RoundTrip(ctx context.Context, req *commsutil.Request) (*commsutil.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *commsutil.Request) (*commsutil.Response, error)

// RoundTrip calls f.
func (f TransportFunc) RoundTrip(ctx context.Context, req *commsutil.Request) (*commsutil.Response, error) {
	return f(ctx, req)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy replaces the default no-retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCallTimeout bounds each attempt. Zero leaves only the caller's deadline.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithHook adds a DispatchHook. Hooks run in the order they were added.
func WithHook(h DispatchHook) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.hooks = append(d.hooks, h)
		}
	}
}

// WithPublisher sets the publisher that receives update-call audit events.
func WithPublisher(p events.EventPublisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

// Dispatcher sends call envelopes through a Transport. It keeps no per-call state
// and is safe for concurrent use.
type Dispatcher struct {
	transport Transport
	policy    RetryPolicy
	timeout   time.Duration
	hooks     hookChain
	publisher events.EventPublisher
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		policy:    NoRetry(),
		timeout:   DefaultCallTimeout,
		publisher: events.NoOp,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the retry policy in effect.
func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// Invoke sends env and returns the encoded result tuple. env must be Idle; it ends
// Succeeded or Failed. Retries, when the policy allows them, use fresh envelopes.
//
// Cancelling ctx abandons the wait. For a query this has no remote effect. For an
// update the remote mutation may or may not have happened: the failure is TIMEOUT
// with Indeterminate set, and the caller must not assume the update was skipped.
func (d *Dispatcher) Invoke(ctx context.Context, env *CallEnvelope) ([]byte, error) {
	start := time.Now()
	current := env
	for attempt := 1; ; attempt++ {
		result, err := d.attempt(ctx, current)
		if errors.Is(err, rpcerr.ErrEnvelopeState) {
			return nil, err
		}
		if err == nil {
			d.audit(ctx, env, current, attempt, start, nil)
			return result, nil
		}
		if attempt >= d.policy.attempts() || !d.policy.shouldRetry(current.Mode, err) || ctx.Err() != nil {
			d.audit(ctx, env, current, attempt, start, err)
			return nil, err
		}

		delay := d.policy.backoff(attempt - 1)
		slog.Warn(fmt.Sprintf("%s - %s.%s attempt %d failed (%s), retrying in %s", logPrefix, current.Service, current.Method, attempt, rpcerr.CodeOf(err), delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.audit(ctx, env, current, attempt, start, err)
			return nil, err
		case <-timer.C:
		}
		current = current.Retry()
	}
}

func (d *Dispatcher) attempt(ctx context.Context, env *CallEnvelope) ([]byte, error) {
	if err := env.transition(StateIdle, StateSent); err != nil {
		return nil, err
	}

	callCtx, cancel := d.callContext(ctx)
	defer cancel()

	req := env.request()
	info := DispatchInfo{
		EnvelopeID: env.ID,
		Service:    env.Service,
		Method:     env.Method,
		Mode:       string(env.Mode),
		Attempt:    env.Attempt,
		ArgBytes:   len(req.Args),
		Meta:       map[string]string{},
	}
	callCtx, tok := d.hooks.start(callCtx, info)
	if len(info.Meta) > 0 {
		req.Meta = info.Meta
	}
	if deadline, ok := callCtx.Deadline(); ok {
		req.DeadlineMs = deadline.UnixMilli()
	}

	slog.Debug(fmt.Sprintf("%s - sending %s.%s id=%s mode=%s attempt=%d", logPrefix, env.Service, env.Method, env.ID, env.Mode, env.Attempt))

	resp, err := d.transport.RoundTrip(callCtx, req)
	result, err := d.interpret(callCtx, env, resp, err)
	if err != nil {
		_ = env.transition(StateSent, StateFailed)
	} else {
		_ = env.transition(StateSent, StateSucceeded)
	}

	info.ResultBytes = len(result)
	d.hooks.end(callCtx, tok, info, err)
	return result, err
}

func (d *Dispatcher) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

// interpret turns a transport outcome into result bytes or a classified failure.
func (d *Dispatcher) interpret(ctx context.Context, env *CallEnvelope, resp *commsutil.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, d.transportFailure(ctx, env, err)
	}
	if resp == nil {
		return nil, rpcerr.New(rpcerr.CodeMalformedWire, "%s.%s: empty response", env.Service, env.Method)
	}
	if resp.ID != env.ID {
		return nil, rpcerr.New(rpcerr.CodeMalformedWire, "%s.%s: response %s does not belong to envelope %s", env.Service, env.Method, resp.ID, env.ID)
	}
	if !resp.Ok {
		detail := resp.Error
		if detail == nil {
			detail = &commsutil.ErrorDetail{Code: "UNSPECIFIED", Message: "remote rejected the call"}
		}
		return nil, &rpcerr.Error{
			Code:       rpcerr.CodeRemoteRejected,
			Message:    fmt.Sprintf("%s.%s: %s", env.Service, env.Method, detail.Message),
			Details:    detail.Details,
			RemoteCode: detail.Code,
		}
	}
	return resp.Result, nil
}

func (d *Dispatcher) transportFailure(ctx context.Context, env *CallEnvelope, err error) error {
	code := rpcerr.CodeOf(err)
	if ctx.Err() != nil {
		code = rpcerr.CodeTimeout
	}
	switch code {
	case rpcerr.CodeTimeout, rpcerr.CodeTransportUnavailable:
	case "":
		code = rpcerr.CodeTransportUnavailable
	default:
		return err
	}

	msg := err.Error()
	var rerr *rpcerr.Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		msg = rerr.Message
	}
	out := rpcerr.Wrap(code, err, "%s.%s: %s", env.Service, env.Method, msg)
	out.Retryable = d.policy.allowsRetry(env.Mode)
	out.Indeterminate = code == rpcerr.CodeTimeout && !env.IsQuery()
	return out
}

// audit publishes the final outcome of an update call.
func (d *Dispatcher) audit(ctx context.Context, first, last *CallEnvelope, attempts int, start time.Time, err error) {
	if first.IsQuery() {
		return
	}
	event := &events.CallCompletedEvent{
		ID:         first.ID,
		Service:    first.Service,
		Method:     first.Method,
		Mode:       string(first.Mode),
		Caller:     first.Caller.String(),
		Outcome:    events.OutcomeSucceeded,
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		event.Outcome = events.OutcomeFailed
		var rerr *rpcerr.Error
		if errors.As(err, &rerr) {
			event.Code = rerr.Code
			event.RemoteCode = rerr.RemoteCode
			if rerr.Indeterminate {
				event.Outcome = events.OutcomeIndeterminate
			}
		}
		slog.Warn(fmt.Sprintf("%s - update %s.%s id=%s ended %s: %v", logPrefix, first.Service, first.Method, last.ID, event.Outcome, err))
	}
	if perr := d.publisher.PublishCallCompleted(context.WithoutCancel(ctx), event); perr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish call event: %v", logPrefix, perr))
	}
}
