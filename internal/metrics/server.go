// Package metrics exposes dispatch analytics in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joss/llmrouter/internal/analytics"
	"github.com/joss/llmrouter/internal/logging"
)

// Reporter produces the analytics report served on each scrape.
type Reporter interface {
	Report(ctx context.Context, window time.Duration) (analytics.Report, error)
}

// Exporter renders reports for /metrics.
type Exporter struct {
	reports Reporter
	window  time.Duration

	Scrapes      atomic.Int64
	ScrapeErrors atomic.Int64

	startTime time.Time
	log       *logging.Logger
}

// NewExporter serves reports over window; zero means all time.
func NewExporter(r Reporter, window time.Duration) *Exporter {
	return &Exporter{
		reports:   r,
		window:    window,
		startTime: time.Now(),
		log:       logging.New("metrics"),
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (e *Exporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.Scrapes.Add(1)
		rep, err := e.reports.Report(r.Context(), e.window)
		if err != nil {
			e.ScrapeErrors.Add(1)
			e.log.Error("scrape_failed", nil, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP llmrouter_uptime_seconds Time since the exporter started\n")
		fmt.Fprintf(w, "# TYPE llmrouter_uptime_seconds gauge\n")
		fmt.Fprintf(w, "llmrouter_uptime_seconds %.2f\n\n", time.Since(e.startTime).Seconds())

		fmt.Fprintf(w, "# HELP llmrouter_scrapes_total Total scrapes served\n")
		fmt.Fprintf(w, "# TYPE llmrouter_scrapes_total counter\n")
		fmt.Fprintf(w, "llmrouter_scrapes_total %d\n\n", e.Scrapes.Load())

		WriteReport(w, rep)
	}
}

// WriteReport writes per-model series for rep.
func WriteReport(w io.Writer, rep analytics.Report) {
	fmt.Fprintf(w, "# HELP llmrouter_dispatches_total Dispatches by model and outcome\n")
	fmt.Fprintf(w, "# TYPE llmrouter_dispatches_total counter\n")
	for _, m := range rep.Models {
		fmt.Fprintf(w, "llmrouter_dispatches_total{model=%q,status=\"ok\"} %d\n", m.ModelID, m.Succeeded)
		fmt.Fprintf(w, "llmrouter_dispatches_total{model=%q,status=\"error\"} %d\n", m.ModelID, m.Failed)
		fmt.Fprintf(w, "llmrouter_dispatches_total{model=%q,status=\"cancelled\"} %d\n", m.ModelID, m.Cancelled)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP llmrouter_success_ratio Succeeded over succeeded plus failed\n")
	fmt.Fprintf(w, "# TYPE llmrouter_success_ratio gauge\n")
	for _, m := range rep.Models {
		fmt.Fprintf(w, "llmrouter_success_ratio{model=%q} %.4f\n", m.ModelID, m.SuccessRate)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP llmrouter_dispatch_duration_ms Dispatch latency\n")
	fmt.Fprintf(w, "# TYPE llmrouter_dispatch_duration_ms summary\n")
	for _, m := range rep.Models {
		fmt.Fprintf(w, "llmrouter_dispatch_duration_ms{model=%q,quantile=\"0.5\"} %.1f\n", m.ModelID, m.MedianMs)
		fmt.Fprintf(w, "llmrouter_dispatch_duration_ms{model=%q,quantile=\"0.95\"} %d\n", m.ModelID, m.P95Ms)
		fmt.Fprintf(w, "llmrouter_dispatch_duration_ms_sum{model=%q} %.1f\n", m.ModelID, m.MeanMs*float64(m.Runs))
		fmt.Fprintf(w, "llmrouter_dispatch_duration_ms_count{model=%q} %d\n", m.ModelID, m.Runs)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP llmrouter_tokens_total Estimated tokens by model and direction\n")
	fmt.Fprintf(w, "# TYPE llmrouter_tokens_total counter\n")
	for _, m := range rep.Models {
		fmt.Fprintf(w, "llmrouter_tokens_total{model=%q,kind=\"prompt\"} %d\n", m.ModelID, m.TokensPrompt)
		fmt.Fprintf(w, "llmrouter_tokens_total{model=%q,kind=\"completion\"} %d\n", m.ModelID, m.TokensCompletion)
	}
}

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a metrics server on addr (host:port).
func NewServer(addr string, e *Exporter) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/metrics", e.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the address and serves in the background. Bind errors are
// returned; serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.New("metrics").Error("serve_failed", nil, err)
		}
	}()
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
