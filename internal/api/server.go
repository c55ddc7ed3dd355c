package api

import (
	"context"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wqiforecast/internal/chart"
	"github.com/lox/wqiforecast/internal/narrative"
	"github.com/lox/wqiforecast/internal/store"
	"github.com/lox/wqiforecast/internal/wqi"
)

const chartTTL = 10 * time.Minute

type Server struct {
	store  *store.Store
	port   string
	ref    wqi.Reference
	tmpl   *template.Template
	charts *chart.Cache
	writer *narrative.Writer
}

// NewServer builds the server. writer may be nil, which disables
// /api/report.
func NewServer(store *store.Store, port string, ref wqi.Reference, writer *narrative.Writer) *Server {
	return &Server{
		store:  store,
		port:   port,
		ref:    ref,
		tmpl:   newTemplates(),
		charts: chart.NewCache(chartTTL),
		writer: writer,
	}
}

// RunSite wraps a site runner so cached charts are dropped after each run.
func (s *Server) RunSite(next func(context.Context, string) error) func(context.Context, string) error {
	return func(ctx context.Context, siteID string) error {
		err := next(ctx, siteID)
		s.charts.Invalidate(siteID)
		return err
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chart.png", s.handleChart)
	mux.HandleFunc("/api/sites", s.handleAPISites)
	mux.HandleFunc("/api/wqi", s.handleAPIWQI)
	mux.HandleFunc("/api/samples", s.handleAPISamples)
	mux.HandleFunc("/api/thresholds", s.handleAPIThresholds)
	mux.HandleFunc("/api/fits", s.handleAPIFits)
	mux.HandleFunc("/api/report", s.handleAPIReport)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
