package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/lox/wqiforecast/internal/store"
)

// SiteRunner recomputes forecasts and indices for a site after new data
// arrives.
type SiteRunner interface {
	RunSite(ctx context.Context, siteID string) error
}

// Scheduler refreshes every active site on a cron schedule: sites with a
// data URL are re-imported first, then each site is re-run.
type Scheduler struct {
	store    *store.Store
	importer *Importer
	runner   SiteRunner
	spec     string
	cron     *cron.Cron
	// RetentionDays bounds how long superseded raw datasets are kept.
	RetentionDays int
}

func NewScheduler(s *store.Store, importer *Importer, runner SiteRunner, spec string) *Scheduler {
	if spec == "" {
		spec = "@daily"
	}
	return &Scheduler{
		store:    s,
		importer: importer,
		runner:   runner,
		spec:     spec,
		cron:     cron.New(),

		RetentionDays: 180,
	}
}

// Run refreshes once immediately, then on schedule until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	job := s.refreshJob(ctx)
	if _, err := s.cron.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Printf("scheduler: refreshing sites on %q", s.spec)

	job.Run()

	<-ctx.Done()
	log.Println("scheduler: shutting down")
	<-s.cron.Stop().Done()
	return nil
}

// refreshJob wraps RefreshAll so that a tick arriving while a refresh is
// still running, including the initial one, is skipped.
func (s *Scheduler) refreshJob(ctx context.Context) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).
		Then(cron.FuncJob(func() { s.RefreshAll(ctx) }))
}

// RefreshAll imports and re-runs every active site. Failures are logged
// per site and do not stop the others.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	sites, err := s.store.GetActiveSites()
	if err != nil {
		log.Printf("scheduler: get sites: %v", err)
		return
	}
	for _, site := range sites {
		if ctx.Err() != nil {
			return
		}
		if site.DataURL != "" {
			if _, err := s.importer.Import(ctx, site.SiteID, site.DataURL); err != nil {
				log.Printf("scheduler: import %s: %v", site.SiteID, err)
				continue
			}
		}
		if err := s.runner.RunSite(ctx, site.SiteID); err != nil {
			log.Printf("scheduler: run %s: %v", site.SiteID, err)
		}
	}

	if n, err := s.store.CleanupOldRawDatasets(s.RetentionDays); err != nil {
		log.Printf("scheduler: cleanup raw datasets: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: removed %d old raw datasets", n)
	}
}

// SiteRunnerFunc adapts a function to SiteRunner.
type SiteRunnerFunc func(ctx context.Context, siteID string) error

func (f SiteRunnerFunc) RunSite(ctx context.Context, siteID string) error {
	return f(ctx, siteID)
}
