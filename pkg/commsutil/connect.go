// Package commsutil provides COMMS connection helpers, wire envelopes and the
// request/reply transport used by the dispatcher.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Reconnect defaults for long-lived gateway connections.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectWait  = 2 * time.Second
	DefaultMaxReconnects  = 60
)

// Connect creates a COMMS connection to url. extra options are applied after the
// defaults and may override them.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	nc, err := comms.Connect(url, append(connectOptions(name), extra...)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS at %s: %w", logPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s (server %s)", logPrefix, nc.ConnectedUrl(), nc.ConnectedServerId()))
	return nc, nil
}

// connectOptions logs connection state changes. In-flight requests fail with
// TRANSPORT_UNAVAILABLE while disconnected; the transport does not buffer them.
func connectOptions(name string) []comms.Option {
	return []comms.Option{
		comms.Name(name),
		comms.Timeout(DefaultConnectTimeout),
		comms.ReconnectWait(DefaultReconnectWait),
		comms.MaxReconnects(DefaultMaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Warn(fmt.Sprintf("%s - COMMS async error on %q: %v", logPrefix, subject, err))
		}),
	}
}
