package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/wqiforecast/internal/api"
	"github.com/lox/wqiforecast/internal/chart"
	"github.com/lox/wqiforecast/internal/ingest"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/narrative"
	"github.com/lox/wqiforecast/internal/pipeline"
)

type ImportCmd struct {
	Site   string `kong:"required,help='Site identifier'"`
	Name   string `kong:"help='Site name'"`
	River  string `kong:"help='River the site is on'"`
	Save   bool   `kong:"help='Remember SOURCE so serve re-imports it on schedule'"`
	Reload bool   `kong:"help='Re-import the last archived dataset instead of fetching SOURCE'"`
	Source string `kong:"arg,optional,help='Path, http(s):// URL or ftp:// URL of the dataset'"`
}

func (c *ImportCmd) Validate() error {
	switch {
	case c.Reload && c.Source != "":
		return errors.New("--reload takes no SOURCE")
	case !c.Reload && c.Source == "":
		return errors.New("SOURCE is required unless --reload is set")
	}
	return nil
}

func (c *ImportCmd) Run(app *App) error {
	im := ingest.NewImporter(app.store, ingest.NewSources())
	if c.Reload {
		res, err := im.Reload(c.Site)
		if err != nil {
			return err
		}
		printImport(os.Stdout, c.Site, res)
		return nil
	}

	site, err := app.store.GetSite(c.Site)
	if err != nil {
		return err
	}
	if site == nil {
		site = &models.Site{SiteID: c.Site, Active: true}
	}
	if c.Name != "" {
		site.Name = c.Name
	}
	if c.River != "" {
		site.River = c.River
	}
	if c.Save {
		site.DataURL = c.Source
	}
	if err := app.store.UpsertSite(*site); err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}

	res, err := im.Import(app.ctx, c.Site, c.Source)
	if err != nil {
		return err
	}
	printImport(os.Stdout, c.Site, res)
	return nil
}

func printImport(w io.Writer, siteID string, res *ingest.ImportResult) {
	fmt.Fprintf(w, "imported %d rows (%d samples, %d flagged, %d parse errors) for %s\ncolumns: %v\n",
		res.Rows, res.Stored, res.Flagged, res.ParseErrors, siteID, res.Columns)
}

type RunCmd struct {
	Site string `kong:"required,help='Site identifier'"`
}

func (c *RunCmd) Run(app *App) error {
	p, err := pipeline.New(app.store, app.cfg)
	if err != nil {
		return err
	}
	res, err := p.Run(app.ctx, c.Site)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	results := make([]models.WQIResult, len(res.Points))
	for i, pt := range res.Points {
		results[i] = pipeline.ToModel(c.Site, res.RunID, pt, res.Forecasted[pt.Period], now)
	}
	printSeries(os.Stdout, results)
	for _, g := range res.Skipped {
		fmt.Printf("skipped %v\n", g)
	}
	return nil
}

type WQICmd struct {
	Site string `kong:"required,help='Site identifier'"`
}

func (c *WQICmd) Run(app *App) error {
	results, err := app.store.GetWQIResults(c.Site)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no results for %s, run `wqiforecast run --site %s` first", c.Site, c.Site)
	}
	printSeries(os.Stdout, results)
	return nil
}

type ChartCmd struct {
	Site   string `kong:"required,help='Site identifier'"`
	Out    string `kong:"default='wqi.png',help='Output PNG path'"`
	Width  int    `kong:"default=1200"`
	Height int    `kong:"default=700"`
	Title  string `kong:"help='Chart title'"`
}

func (c *ChartCmd) Run(app *App) error {
	results, err := app.store.GetWQIResults(c.Site)
	if err != nil {
		return err
	}
	data, err := chart.Render(chart.FromResults(results), chart.Options{Width: c.Width, Height: c.Height, Title: c.Title})
	if err != nil {
		return fmt.Errorf("render chart for %s: %w", c.Site, err)
	}
	if err := os.WriteFile(c.Out, data, 0644); err != nil {
		return err
	}
	log.Printf("wrote %s (%d bytes)", c.Out, len(data))
	return nil
}

type ReportCmd struct {
	Site      string `kong:"required,help='Site identifier'"`
	OpenAIKey string `kong:"name=openai-api-key,env=OPENAI_API_KEY,help='OpenAI API key'"`
	BaseURL   string `kong:"name=openai-base-url,env=OPENAI_BASE_URL,help='OpenAI compatible endpoint'"`
}

func (c *ReportCmd) Run(app *App) error {
	w, err := narrative.NewWriter(c.OpenAIKey, c.BaseURL)
	if err != nil {
		return err
	}
	site, err := app.store.GetSite(c.Site)
	if err != nil {
		return err
	}
	if site == nil {
		return fmt.Errorf("unknown site %s", c.Site)
	}
	results, err := app.store.GetWQIResults(c.Site)
	if err != nil {
		return err
	}
	text, err := w.Summarise(app.ctx, *site, results)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

type ServeCmd struct {
	Port       string `kong:"default='8080',env=PORT,help='HTTP server port'"`
	Schedule   string `kong:"help='Cron spec for refreshing sites (default from config)'"`
	NoSchedule bool   `kong:"help='Disable scheduled refresh (server only, for local dev)'"`
	OpenAIKey  string `kong:"name=openai-api-key,env=OPENAI_API_KEY,help='Enables /api/report'"`
	BaseURL    string `kong:"name=openai-base-url,env=OPENAI_BASE_URL,help='OpenAI compatible endpoint'"`
}

func (c *ServeCmd) Run(app *App) error {
	p, err := pipeline.New(app.store, app.cfg)
	if err != nil {
		return err
	}

	writer, err := narrative.NewWriter(c.OpenAIKey, c.BaseURL)
	if errors.Is(err, narrative.ErrNoAPIKey) {
		log.Printf("narrative disabled: %v", err)
	} else if err != nil {
		return err
	}
	server := api.NewServer(app.store, c.Port, p.Reference(), writer)

	if !c.NoSchedule {
		spec := c.Schedule
		if spec == "" {
			spec = app.cfg.Schedule
		}
		runner := ingest.SiteRunnerFunc(server.RunSite(p.RunSite))
		scheduler := ingest.NewScheduler(app.store, ingest.NewImporter(app.store, ingest.NewSources()), runner, spec)
		go func() {
			if err := scheduler.Run(app.ctx); err != nil {
				log.Printf("scheduler: %v", err)
			}
		}()
	} else {
		log.Println("scheduled refresh disabled (--no-schedule)")
	}

	return server.Run(app.ctx)
}

func printSeries(out io.Writer, results []models.WQIResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEASON\tWQI\tRATING\tF1\tF2\tF3\tTESTS\tSOURCE")
	for _, r := range results {
		value := "n/a"
		if r.WQI.Valid {
			value = fmt.Sprintf("%.2f", r.WQI.Float64)
		}
		source := models.SourceObserved
		if r.HasForecast {
			source = models.SourceForecast
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%d\t%s\n",
			r.Label, value, r.Rating, r.F1, r.F2, r.F3, r.Tests, source)
	}
	w.Flush()
}
