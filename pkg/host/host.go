// Package host serves a registered service contract over COMMS request/reply.
// Each request is decoded against the method's declared argument types, routed
// to its handler, and the handler's results are encoded against the declared
// result types.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/pkg/codec"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
	"github.com/morezero/contracts-gateway/pkg/telemetry"
)

const logPrefix = "host:host"

// Host-side failure codes carried in ErrorDetail.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeModeMismatch   = "MODE_MISMATCH"
	CodeInternal       = "INTERNAL_ERROR"
)

// DefaultRequestTimeout bounds a handler when the caller sent no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Call is one decoded request as seen by a handler.
type Call struct {
	ID      string
	Service string
	Method  string
	Mode    schema.Mode
	Caller  principal.Principal
	Args    []any
	Attempt int
}

// Handler serves one method. It returns result values matching the declared
// result types, or an error. Return a *RemoteError for application-level rejections.
type Handler func(ctx context.Context, call *Call) ([]any, error)

// RemoteError is an application-level rejection reported to the caller.
type RemoteError struct {
	Code    string
	Message string
	Details interface{}
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// Reject builds a RemoteError.
func Reject(code, format string, args ...interface{}) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Options configures a Host. Zero values use defaults.
type Options struct {
	SubjectPrefix        string
	CompressionThreshold int
	RequestTimeout       time.Duration
	Instrumentation      *telemetry.Instrumentation
}

// Host serves one service descriptor.
type Host struct {
	desc     *schema.ServiceDescriptor
	opts     Options
	subject  string
	mu       sync.RWMutex
	handlers map[string]Handler
	sub      *comms.Subscription
}

// New creates a Host for desc. Handlers must be added with Handle before Serve.
func New(desc *schema.ServiceDescriptor, opts Options) *Host {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Host{
		desc:     desc,
		opts:     opts,
		subject:  commsutil.BuildServiceSubject(opts.SubjectPrefix, desc.Name, desc.Major()),
		handlers: make(map[string]Handler, len(desc.Methods)),
	}
}

// Subject returns the request subject the host listens on.
func (h *Host) Subject() string {
	return h.subject
}

// Handle registers fn for a declared method.
func (h *Host) Handle(method string, fn Handler) error {
	if h.desc.Method(method) == nil {
		return rpcerr.New(rpcerr.CodeUnknownMethod, "service %s has no method %s", h.desc.Name, method)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = fn
	return nil
}

// Serve subscribes to the service subject. Every declared method must have a
// handler. Requests are load-balanced across hosts of the same service.
func (h *Host) Serve(ctx context.Context, nc *comms.Conn) error {
	h.mu.RLock()
	for _, m := range h.desc.Methods {
		if _, ok := h.handlers[m.Name]; !ok {
			h.mu.RUnlock()
			return rpcerr.New(rpcerr.CodeMalformedSchema, "service %s: no handler for %s", h.desc.Name, m.Name)
		}
	}
	h.mu.RUnlock()

	sub, err := nc.QueueSubscribe(h.subject, "host."+h.desc.Name, func(msg *comms.Msg) {
		h.serveMsg(ctx, nc, msg)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, h.subject, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%s - failed to flush subscription: %w", logPrefix, err)
	}
	h.sub = sub
	slog.Info(fmt.Sprintf("%s - Serving %s@%s on %s", logPrefix, h.desc.Name, h.desc.Version, h.subject))
	return nil
}

// Close stops serving.
func (h *Host) Close() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Unsubscribe()
}

func (h *Host) serveMsg(ctx context.Context, nc *comms.Conn, msg *comms.Msg) {
	var req commsutil.Request
	var resp *commsutil.Response
	if err := commsutil.ReadMsg(msg, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		resp = commsutil.ErrorResponse("", CodeInvalidRequest, "Failed to decode request", false)
	} else {
		reqCtx, cancel := h.requestContext(ctx, &req)
		resp = h.Dispatch(reqCtx, &req)
		cancel()
	}

	if msg.Reply == "" {
		return
	}
	reply, err := commsutil.NewMsg(msg.Reply, resp, h.opts.CompressionThreshold)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return
	}
	if err := nc.PublishMsg(reply); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond to %s: %v", logPrefix, req.ID, err))
	}
}

// requestContext applies the host timeout, shortened by the caller's deadline.
func (h *Host) requestContext(ctx context.Context, req *commsutil.Request) (context.Context, context.CancelFunc) {
	timeout := h.opts.RequestTimeout
	if req.DeadlineMs > 0 {
		if remaining := time.Until(time.UnixMilli(req.DeadlineMs)); remaining < timeout {
			timeout = remaining
		}
	}
	return context.WithTimeout(ctx, timeout)
}

// Dispatch routes a request to its handler and returns the response envelope.
func (h *Host) Dispatch(ctx context.Context, req *commsutil.Request) (resp *commsutil.Response) {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	if h.opts.Instrumentation != nil {
		var end func(error)
		ctx, end = h.opts.Instrumentation.StartServerSpan(ctx, h.desc.Name, req.Method, req.Mode, req.Meta)
		defer func() {
			var err error
			if !resp.Ok {
				err = errors.New(resp.Error.Code + ": " + resp.Error.Message)
			}
			end(err)
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler %s.%s panicked: %v", logPrefix, h.desc.Name, req.Method, r))
			resp = commsutil.ErrorResponse(req.ID, CodeInternal, fmt.Sprintf("handler for %s panicked", req.Method), false)
		}
	}()

	if req.Service != "" && req.Service != h.desc.Name {
		return commsutil.ErrorResponse(req.ID, rpcerr.CodeUnknownService, fmt.Sprintf("Unknown service: %s", req.Service), false)
	}
	m := h.desc.Method(req.Method)
	h.mu.RLock()
	fn, ok := h.handlers[req.Method]
	h.mu.RUnlock()
	if m == nil || !ok {
		return commsutil.ErrorResponse(req.ID, rpcerr.CodeUnknownMethod, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
	if req.Mode != "" && schema.Mode(req.Mode) != m.Mode {
		return commsutil.ErrorResponse(req.ID, CodeModeMismatch, fmt.Sprintf("%s is a %s method, called as %s", m.Name, m.Mode, req.Mode), false)
	}

	args, err := codec.DecodeResults(req.Args, m.Args)
	if err != nil {
		return commsutil.ErrorResponse(req.ID, rpcerr.CodeMalformedWire, err.Error(), false)
	}

	caller := principal.Anonymous
	if req.Caller != "" {
		if caller, err = principal.Parse(req.Caller); err != nil {
			return commsutil.ErrorResponse(req.ID, CodeInvalidRequest, err.Error(), false)
		}
	}

	results, err := fn(ctx, &Call{
		ID:      req.ID,
		Service: h.desc.Name,
		Method:  m.Name,
		Mode:    m.Mode,
		Caller:  caller,
		Args:    args,
		Attempt: req.Attempt,
	})
	if err != nil {
		return handlerErrorToResponse(req.ID, err)
	}

	data, err := codec.EncodeArgs(results, m.Results)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s.%s returned nonconforming results: %v", logPrefix, h.desc.Name, m.Name, err))
		return commsutil.ErrorResponse(req.ID, CodeInternal, "handler returned results that do not match the contract", false)
	}
	return commsutil.OkResponse(req.ID, data)
}

func handlerErrorToResponse(id string, err error) *commsutil.Response {
	var remote *RemoteError
	if errors.As(err, &remote) {
		resp := commsutil.ErrorResponse(id, remote.Code, remote.Message, false)
		resp.Error.Details = remote.Details
		return resp
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return commsutil.ErrorResponse(id, rpcerr.CodeTimeout, err.Error(), true)
	}
	return commsutil.ErrorResponse(id, CodeInternal, err.Error(), true)
}
