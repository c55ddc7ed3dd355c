package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/lox/wqiforecast/internal/store"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	sites, err := s.store.GetActiveSites()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := IndexData{Thresholds: thresholdViews(s.ref)}
	selected := r.URL.Query().Get("site")
	for _, st := range sites {
		v := siteView(st)
		data.Sites = append(data.Sites, v)
		if data.Site == nil && (selected == "" || selected == st.SiteID) {
			data.Site = &v
		}
	}

	if data.Site != nil {
		results, err := s.store.GetWQIResults(data.Site.SiteID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Points = wqiPoints(results)
		for i := len(data.Points) - 1; i >= 0; i-- {
			if data.Points[i].WQI != nil && !data.Points[i].HasForecast {
				data.Latest = &data.Points[i]
				break
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
	}
}

// handleHealth reports the last run of every active site. A failed last
// run marks the service degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	sites, err := s.store.GetActiveSites()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{
		Status: "ok",
		Sites:  make([]SiteHealth, 0, len(sites)),
	}
	for _, st := range sites {
		runs, err := s.store.GetRecentRuns(st.SiteID, 1)
		if err != nil {
			health.Errors = append(health.Errors, st.SiteID+": "+err.Error())
			continue
		}
		sh := SiteHealth{SiteID: st.SiteID}
		if len(runs) > 0 {
			sh = siteHealth(st.SiteID, runs[0])
		}
		first, last, ok, err := s.store.GetSampleRange(st.SiteID)
		if err != nil {
			health.Errors = append(health.Errors, st.SiteID+": "+err.Error())
			continue
		}
		if ok {
			sh.FirstSample = first.Format("2006-01-02")
			sh.LastSample = last.Format("2006-01-02")
		}
		if len(runs) > 0 && !sh.Success {
			health.Status = "degraded"
		}
		health.Sites = append(health.Sites, sh)
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}

func siteHealth(siteID string, run store.Run) SiteHealth {
	sh := SiteHealth{SiteID: siteID, Kind: run.Kind, Success: run.Success}
	at := run.StartedAt
	if run.FinishedAt.Valid {
		at = run.FinishedAt.Time
	}
	at = at.UTC().Truncate(time.Second)
	sh.LastRun = &at
	if run.ErrorMessage.Valid {
		sh.Error = run.ErrorMessage.String
	}
	return sh
}
