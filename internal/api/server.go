// Package api is the local HTTP facade the device UI talks to.
//
// It exposes draft entry, on-demand uploads, participant lookup, the dosing and visit
// engines, field validation, connectivity status, manual sync and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ConnectForLife/vxnaid-sub000/internal/connectivity"
	"github.com/ConnectForLife/vxnaid-sub000/internal/manager"
	"github.com/ConnectForLife/vxnaid-sub000/internal/syncer"
	"github.com/ConnectForLife/vxnaid-sub000/internal/validation"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8080"

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// StatusSource reports backend reachability.
type StatusSource interface {
	Status() connectivity.Status
}

// SyncRunner runs one sync pass on demand.
type SyncRunner interface {
	RunOnce(ctx context.Context) (syncer.Report, error)
}

// OperatorSetter records the signed-in operator.
type OperatorSetter interface {
	SetOperator(operatorUUID string)
}

// Opts holds server configuration.
type Opts struct {
	Addr          string
	Connectivity  StatusSource
	Sync          SyncRunner
	Gatherer      prometheus.Gatherer
	Operator      OperatorSetter
	DebounceDelay time.Duration
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithConnectivity exposes the connectivity monitor.
func WithConnectivity(s StatusSource) Option {
	return func(o *Opts) { o.Connectivity = s }
}

// WithSync enables the manual sync endpoint.
func WithSync(r SyncRunner) Option {
	return func(o *Opts) { o.Sync = r }
}

// WithGatherer serves the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// WithOperatorSetter enables the operator sign-in endpoint.
func WithOperatorSetter(s OperatorSetter) Option {
	return func(o *Opts) { o.Operator = s }
}

// WithDebounceDelay sets how long field validation waits for input to settle.
func WithDebounceDelay(d time.Duration) Option {
	return func(o *Opts) { o.DebounceDelay = d }
}

// Server routes UI requests to the manager.
type Server struct {
	router   chi.Router
	mgr      *manager.Manager
	opts     Opts
	debounce *validation.Debouncer[string]
	httpSrv  *http.Server
}

// NewServer builds the router.
func NewServer(mgr *manager.Manager, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, DebounceDelay: validation.DefaultDelay}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		router:   chi.NewRouter(),
		mgr:      mgr,
		opts:     o,
		debounce: validation.NewDebouncer[string](o.DebounceDelay),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Server.request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"dur", time.Since(start), "requestID", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.healthHandler)
	r.Get("/connectivity", s.connectivityHandler)
	r.Post("/sync", s.syncHandler)
	r.Put("/identity/operator", s.setOperatorHandler)

	r.Route("/drafts", func(r chi.Router) {
		r.Post("/participants", s.insertParticipantDraftHandler)
		r.Get("/participants", s.listParticipantDraftsHandler)
		r.Post("/participants/{uuid}/upload", s.uploadParticipantHandler)
		r.Post("/visits", s.insertVisitDraftHandler)
		r.Get("/visits", s.listVisitDraftsHandler)
		r.Post("/visits/{uuid}/upload", s.uploadVisitHandler)
	})

	r.Route("/participants/{uuid}", func(r chi.Router) {
		r.Get("/", s.getParticipantHandler)
		r.Get("/visits", s.visitsHandler)
		r.Get("/due-substances", s.dueSubstancesHandler)
		r.Get("/open-visit", s.openVisitHandler)
		r.Get("/next-visit-date", s.nextVisitDateHandler)
		r.Post("/dosing-visit", s.finalizeDosingVisitHandler)
	})

	r.Get("/substances", s.substancesHandler)
	r.Post("/validate/{field}", s.validateHandler)

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Start: listening", "addr", s.opts.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	slog.Info("Server.Start: shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
