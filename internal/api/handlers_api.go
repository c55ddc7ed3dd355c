package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/lox/wqiforecast/internal/chart"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/narrative"
	"github.com/lox/wqiforecast/internal/season"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// requireSite reads the site query parameter and checks it exists. It
// writes the error response itself and returns nil on failure.
func (s *Server) requireSite(w http.ResponseWriter, r *http.Request) *models.Site {
	siteID := r.URL.Query().Get("site")
	if siteID == "" {
		http.Error(w, "site parameter required", http.StatusBadRequest)
		return nil
	}
	site, err := s.store.GetSite(siteID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	if site == nil {
		http.Error(w, "unknown site "+siteID, http.StatusNotFound)
		return nil
	}
	return site
}

func (s *Server) handleAPISites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.GetActiveSites()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]SiteView, len(sites))
	for i, st := range sites {
		out[i] = siteView(st)
	}
	writeJSON(w, out)
}

func (s *Server) handleAPIWQI(w http.ResponseWriter, r *http.Request) {
	site := s.requireSite(w, r)
	if site == nil {
		return
	}
	from, err := periodParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := periodParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.store.GetWQIResults(site.SiteID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	kept := results[:0]
	for _, res := range results {
		p, err := season.Parse(res.Label)
		if err != nil {
			log.Printf("api: %s: %v", site.SiteID, err)
			continue
		}
		if (from != nil && p.Less(*from)) || (to != nil && to.Less(p)) {
			continue
		}
		kept = append(kept, res)
	}
	writeJSON(w, wqiPoints(kept))
}

// periodParam reads an optional "2020 - Winter" style bound.
func periodParam(r *http.Request, name string) (*season.Period, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	p, err := season.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &p, nil
}

func (s *Server) handleAPIFits(w http.ResponseWriter, r *http.Request) {
	site := s.requireSite(w, r)
	if site == nil {
		return
	}
	fits, err := s.store.GetLatestForecastFits(site.SiteID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, fitViews(fits))
}

func (s *Server) handleAPISamples(w http.ResponseWriter, r *http.Request) {
	site := s.requireSite(w, r)
	if site == nil {
		return
	}
	source := r.URL.Query().Get("source")
	switch source {
	case "":
		source = models.SourceObserved
	case models.SourceObserved, models.SourceForecast:
	default:
		http.Error(w, "source must be observed or forecast", http.StatusBadRequest)
		return
	}

	t, err := s.store.GetTable(site.SiteID, source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rows := sampleRows(t)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		// most recent rows
		if n < len(rows) {
			rows = rows[len(rows)-n:]
		}
	}
	writeJSON(w, rows)
}

func (s *Server) handleAPIThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, thresholdViews(s.ref))
}

func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	if s.writer == nil {
		http.Error(w, "narrative disabled", http.StatusServiceUnavailable)
		return
	}
	site := s.requireSite(w, r)
	if site == nil {
		return
	}
	results, err := s.store.GetWQIResults(site.SiteID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	text, err := s.writer.Summarise(r.Context(), *site, results)
	if errors.Is(err, narrative.ErrNoResults) {
		http.Error(w, "no results for site", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("api: narrative for %s: %v", site.SiteID, err)
		http.Error(w, "narrative failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"site_id": site.SiteID, "summary": text})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	site := s.requireSite(w, r)
	if site == nil {
		return
	}

	data, ok := s.charts.Get(site.SiteID)
	if !ok {
		results, err := s.store.GetWQIResults(site.SiteID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data, err = chart.Render(chart.FromResults(results), chart.Options{})
		if errors.Is(err, chart.ErrNoPoints) {
			http.Error(w, "no results for site", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.charts.Set(site.SiteID, data)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}
