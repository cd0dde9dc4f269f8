// Package server runs the contracts gateway: COMMS client, contract registry,
// dispatcher, typed stubs and the HTTP contract browser.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/internal/config"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
	"github.com/morezero/contracts-gateway/pkg/stub"
	"github.com/morezero/contracts-gateway/pkg/telemetry"
)

const logPrefix = "server:server"

// HeaderCaller carries the textual principal an HTTP call is made as.
const HeaderCaller = "X-Caller-Principal"

// maxCallBody bounds the JSON argument array accepted by the call endpoint.
const maxCallBody = 1 << 20

// Server serves the HTTP surface of the gateway.
type Server struct {
	cfg        *config.Config
	gw         *Gateway
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
}

// NewServer creates a Server. nc and pool may be nil; health reports them as down
// and skipped respectively.
func NewServer(cfg *config.Config, gw *Gateway, nc *comms.Conn, pool *pgxpool.Pool) *Server {
	return &Server{cfg: cfg, gw: gw, nc: nc, pool: pool}
}

// HealthOutput is the body of /health.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Services  int          `json:"services"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks lists the individual dependency checks.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

// Health checks the COMMS connection and, when contracts come from Postgres, the pool.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Services:  len(s.gw.Registry.Services()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	h.Checks.Comms = s.nc != nil && s.nc.IsConnected()
	if !h.Checks.Comms {
		h.Status = "unhealthy"
	}
	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome())
	mux.HandleFunc("GET /service/{name}", s.handleServiceDetail())
	mux.HandleFunc("GET /service/{name}/openapi.json", s.handleOpenAPI())
	mux.HandleFunc("GET /service/{name}/docs", s.handleDocs())
	mux.HandleFunc("POST /service/{name}/{method}", s.handleCall())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return mux
}

// serviceSummary is one row of the home page.
type serviceSummary struct {
	Name    string
	Version string
	Subject string
	Methods int
}

type homeData struct {
	Health *HealthOutput
	// Database is "OK", "Failed", or empty when contracts do not come from Postgres.
	Database string
	Services []serviceSummary
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.Health(ctx)}
		if db := data.Health.Checks.Database; db != nil {
			data.Database = "Failed"
			if *db {
				data.Database = "OK"
			}
		}
		for _, name := range s.gw.Registry.Services() {
			desc, err := s.gw.Registry.Service(name)
			if err != nil {
				continue
			}
			data.Services = append(data.Services, serviceSummary{
				Name:    desc.Name,
				Version: desc.Version,
				Subject: s.subject(desc),
				Methods: len(desc.Methods),
			})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

type methodView struct {
	Name        string
	Signature   string
	Mode        string
	Description string
}

type typeView struct {
	Name     string
	Expanded string
}

type serviceDetailData struct {
	Name        string
	Version     string
	Description string
	Subject     string
	Methods     []methodView
	Types       []typeView
}

func (s *Server) handleServiceDetail() http.HandlerFunc {
	tmpl := template.Must(template.New("serviceDetail").Parse(serviceDetailPageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		desc, ok := s.lookup(w, r)
		if !ok {
			return
		}
		data := serviceDetailData{
			Name:        desc.Name,
			Version:     desc.Version,
			Description: desc.Description,
			Subject:     s.subject(desc),
		}
		for _, m := range desc.Methods {
			data.Methods = append(data.Methods, methodView{
				Name:        m.Name,
				Signature:   m.Signature(),
				Mode:        string(m.Mode),
				Description: m.Description,
			})
		}
		for _, t := range desc.Types {
			data.Types = append(data.Types, typeView{Name: t.Name, Expanded: t.Expand()})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - service detail template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleOpenAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, ok := s.lookup(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=60")
		if err := json.NewEncoder(w).Encode(buildOpenAPISpec(desc)); err != nil {
			slog.Error(fmt.Sprintf("%s - openapi json encode: %v", logPrefix, err))
		}
	}
}

func (s *Server) handleDocs() http.HandlerFunc {
	tmpl := template.Must(template.New("swagger").Parse(swaggerUIPage))
	return func(w http.ResponseWriter, r *http.Request) {
		desc, ok := s.lookup(w, r)
		if !ok {
			return
		}
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		specURL := scheme + "://" + r.Host + "/service/" + url.PathEscape(desc.Name) + "/openapi.json"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		tmpl.Execute(w, map[string]string{"Name": desc.Name, "SpecURL": specURL})
	}
}

// callResponse is the body of the call endpoint.
type callResponse struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcerr.Error   `json:"error,omitempty"`
}

// handleCall invokes a method through its stub. The body is the JSON argument
// array; the caller comes from X-Caller-Principal or the configured default.
func (s *Server) handleCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.gw.Stub(r.PathValue("name"))
		if err != nil {
			writeCallError(w, err)
			return
		}
		ctx := r.Context()
		if text := r.Header.Get(HeaderCaller); text != "" {
			p, err := principal.Parse(text)
			if err != nil {
				writeCallError(w, rpcerr.New(rpcerr.CodeTypeMismatch, "invalid %s header: %v", HeaderCaller, err))
				return
			}
			ctx = stub.ContextWithCaller(ctx, p)
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallBody))
		if err != nil {
			writeCallError(w, rpcerr.New(rpcerr.CodeTypeMismatch, "failed to read arguments: %v", err))
			return
		}

		result, err := st.CallJSON(ctx, r.PathValue("method"), body)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - call %s.%s failed: %v", logPrefix, r.PathValue("name"), r.PathValue("method"), err))
			writeCallError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(callResponse{Ok: true, Result: result})
	}
}

func writeCallError(w http.ResponseWriter, err error) {
	var rerr *rpcerr.Error
	if !errors.As(err, &rerr) {
		rerr = &rpcerr.Error{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	json.NewEncoder(w).Encode(callResponse{Ok: false, Error: rerr})
}

// StatusFor maps a call failure to an HTTP status.
func StatusFor(err error) int {
	switch rpcerr.CodeOf(err) {
	case rpcerr.CodeTypeMismatch:
		return http.StatusBadRequest
	case rpcerr.CodeUnknownService, rpcerr.CodeUnknownMethod:
		return http.StatusNotFound
	case rpcerr.CodeRemoteRejected:
		return http.StatusUnprocessableEntity
	case rpcerr.CodeTimeout:
		return http.StatusGatewayTimeout
	case rpcerr.CodeTransportUnavailable:
		return http.StatusServiceUnavailable
	case rpcerr.CodeMalformedWire:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*schema.ServiceDescriptor, bool) {
	desc, err := s.gw.Registry.Service(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	return desc, true
}

func (s *Server) subject(desc *schema.ServiceDescriptor) string {
	return commsutil.BuildServiceSubject(s.cfg.SubjectPrefix, desc.Name, desc.Major())
}

// Run starts the gateway, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	SetupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting contracts-gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load contracts
	reg, pool, err := LoadRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s - failed to load contracts: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d service contracts", logPrefix, len(reg.Services())))

	// Step 2: Connect to COMMS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, cfg.COMMSURL))

	return serve(ctx, cfg, reg, pool, nc, NewInstrumentation(cfg), nil)
}

// serve builds the client stack and HTTP surface, then blocks until SIGINT or
// SIGTERM. cleanup runs after HTTP shutdown and before the connection drains.
func serve(ctx context.Context, cfg *config.Config, reg *schema.Registry, pool *pgxpool.Pool, nc *comms.Conn, inst *telemetry.Instrumentation, cleanup func()) error {
	fail := func(err error) error {
		if cleanup != nil {
			cleanup()
		}
		nc.Close()
		if pool != nil {
			pool.Close()
		}
		return fmt.Errorf("%s - failed to build gateway: %w", logPrefix, err)
	}

	// Step 3: Dispatcher and stubs
	disp := NewDispatcher(cfg, nc, reg, inst)
	opts, err := StubOptions(cfg)
	if err != nil {
		return fail(err)
	}
	gw, err := NewGateway(reg, disp, opts...)
	if err != nil {
		return fail(err)
	}
	return NewServer(cfg, gw, nc, pool).listenAndWait(ctx, cleanup)
}

func (s *Server) listenAndWait(ctx context.Context, cleanup func()) error {
	// Step 4: HTTP contract browser
	addr := s.cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, addr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Contracts-gateway is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()
	s.httpServer.Shutdown(shutdownCtx)
	if cleanup != nil {
		cleanup()
	}
	s.nc.Drain()
	if s.pool != nil {
		s.pool.Close()
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
