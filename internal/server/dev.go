package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/contracts-gateway/internal/config"
	"github.com/morezero/contracts-gateway/internal/devservices"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/host"
)

const devLogPrefix = "server:dev"

// DevOptions configures RunDev.
type DevOptions struct {
	// Embedded starts an in-process COMMS server instead of dialing COMMS_URL.
	Embedded bool
	// EmbeddedHost and EmbeddedPort select the listen address (port -1 picks one).
	EmbeddedHost string
	EmbeddedPort int
}

// RunDev runs the gateway together with in-memory access and inventory services.
// It blocks until a shutdown signal.
func RunDev(opts DevOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", devLogPrefix, err)
	}
	SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shutdownEmbedded func()
	if opts.Embedded {
		hostname := opts.EmbeddedHost
		if hostname == "" {
			hostname = "127.0.0.1"
		}
		ns, err := commsutil.StartEmbedded(hostname, opts.EmbeddedPort)
		if err != nil {
			return err
		}
		shutdownEmbedded = ns.Shutdown
		cfg.COMMSURL = ns.ClientURL()
	}
	stopEmbedded := func() {
		if shutdownEmbedded != nil {
			shutdownEmbedded()
		}
	}

	if err := cfg.ValidateForServe(); err != nil {
		stopEmbedded()
		return err
	}

	reg, pool, err := LoadRegistry(ctx, cfg)
	if err != nil {
		stopEmbedded()
		return fmt.Errorf("%s - failed to load contracts: %w", devLogPrefix, err)
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-dev")
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		stopEmbedded()
		return fmt.Errorf("%s - failed to connect to COMMS: %w", devLogPrefix, err)
	}

	inst := NewInstrumentation(cfg)
	services, err := devservices.Start(ctx, nc, reg, host.Options{
		SubjectPrefix:        cfg.SubjectPrefix,
		CompressionThreshold: cfg.CompressionThreshold,
		RequestTimeout:       cfg.RequestTimeout,
		Instrumentation:      inst,
	})
	if err != nil {
		nc.Close()
		if pool != nil {
			pool.Close()
		}
		stopEmbedded()
		return fmt.Errorf("%s - failed to start development services: %w", devLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Development services serving on %s", devLogPrefix, cfg.COMMSURL))

	// The embedded server must outlive the drain of nc, so it stops last.
	err = serve(ctx, cfg, reg, pool, nc, inst, services.Close)
	stopEmbedded()
	return err
}
