package commsutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

const transportLogPrefix = "commsutil:transport"

// TransportOptions configures NATSTransport. Zero values use defaults.
type TransportOptions struct {
	// SubjectPrefix overrides DefaultSubjectPrefix (GATEWAY_SUBJECT_PREFIX).
	SubjectPrefix string
	// Majors maps a service name to the major version it is served under. Missing
	// services use major 1.
	Majors map[string]int
	// CompressionThreshold is the request size in bytes above which the body is
	// zstd-compressed. Zero disables compression.
	CompressionThreshold int
}

// NATSTransport carries requests to service hosts over COMMS request/reply.
type NATSTransport struct {
	nc   *comms.Conn
	opts TransportOptions
}

// NewNATSTransport creates a transport over an established connection.
func NewNATSTransport(nc *comms.Conn, opts TransportOptions) *NATSTransport {
	return &NATSTransport{nc: nc, opts: opts}
}

// Subject returns the request subject for service.
func (t *NATSTransport) Subject(service string) string {
	major, ok := t.opts.Majors[service]
	if !ok {
		major = 1
	}
	return BuildServiceSubject(t.opts.SubjectPrefix, service, major)
}

// RoundTrip sends req and waits for the reply until ctx is done. Failures are
// classified as TRANSPORT_UNAVAILABLE, TIMEOUT or MALFORMED_WIRE.
func (t *NATSTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if t.nc == nil || t.nc.IsClosed() {
		return nil, rpcerr.New(rpcerr.CodeTransportUnavailable, "no COMMS connection")
	}
	subject := t.Subject(req.Service)
	msg, err := NewMsg(subject, req, t.opts.CompressionThreshold)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.CodeTypeMismatch, err, "cannot build request for %s.%s", req.Service, req.Method)
	}

	slog.Debug(fmt.Sprintf("%s - request id=%s subject=%s bytes=%d", transportLogPrefix, req.ID, subject, len(msg.Data)))

	reply, err := t.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, ClassifyError(ctx, subject, err)
	}

	var resp Response
	if err := ReadMsg(reply, &resp); err != nil {
		return nil, rpcerr.Wrap(rpcerr.CodeMalformedWire, err, "unreadable reply on %s", subject)
	}
	return &resp, nil
}

// ClassifyError maps a COMMS request failure onto the dispatch failure codes.
func ClassifyError(ctx context.Context, subject string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, comms.ErrTimeout), ctx.Err() != nil:
		return rpcerr.Wrap(rpcerr.CodeTimeout, err, "no reply on %s", subject)
	case errors.Is(err, comms.ErrNoResponders):
		return rpcerr.Wrap(rpcerr.CodeTransportUnavailable, err, "no service is listening on %s", subject)
	default:
		return rpcerr.Wrap(rpcerr.CodeTransportUnavailable, err, "request on %s failed", subject)
	}
}
