package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lox/wqiforecast/internal/api"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/narrative"
	"github.com/lox/wqiforecast/internal/store"
	"github.com/lox/wqiforecast/internal/wqi"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func newServer(t *testing.T, s *store.Store) *api.Server {
	t.Helper()
	return api.NewServer(s, "8080", wqi.DefaultReference(), nil)
}

func get(t *testing.T, srv *api.Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func seedSite(t *testing.T, s *store.Store) {
	t.Helper()
	if err := s.UpsertSite(models.Site{SiteID: "S1", Name: "Ghat 4", River: "Ganga", Active: true}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	results := []models.WQIResult{
		{SiteID: "S1", Year: 2019, Season: "Monsoon", Label: "2019 - Monsoon", Parameters: 10, Tests: 40,
			WQI: sql.NullFloat64{Float64: 71.5, Valid: true}, Rating: "Fair", ComputedAt: now},
		{SiteID: "S1", Year: 2019, Season: "Post-Monsoon", Label: "2019 - Post-Monsoon", Parameters: 10,
			Rating: "Undefined", ComputedAt: now},
		{SiteID: "S1", Year: 2020, Season: "Winter", Label: "2020 - Winter", Parameters: 10, Tests: 30,
			WQI: sql.NullFloat64{Float64: 96.2, Valid: true}, Rating: "Excellent", HasForecast: true, ComputedAt: now},
	}
	if err := s.ReplaceWQIResults("S1", results); err != nil {
		t.Fatal(err)
	}

	tbl := models.Table{
		Columns: []string{"pH", "DO"},
		Rows: []models.Row{
			{Date: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC), Source: models.SourceObserved, Values: map[string]sql.NullFloat64{
				"pH": {Float64: 7.1, Valid: true}, "DO": {},
			}},
			{Date: time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC), Source: models.SourceObserved, Values: map[string]sql.NullFloat64{
				"pH": {Float64: 7.3, Valid: true}, "DO": {Float64: 6.2, Valid: true},
			}},
		},
	}
	if _, err := s.InsertSamples(store.Unpivot("S1", tbl)); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestStore(t)
	srv := newServer(t, s)

	w := get(t, srv, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("expected ok status, got %s", w.Body.String())
	}
}

func TestHealthEndpoint_FailedRun(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	run, err := s.StartRun(store.RunPipeline, "S1", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteRun(run, errors.New("forecast: boom")); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, s)

	w := get(t, srv, "/health")
	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" {
		t.Errorf("expected degraded, got %q", health.Status)
	}
	if len(health.Sites) != 1 || health.Sites[0].Error != "forecast: boom" || health.Sites[0].LastRun == nil {
		t.Fatalf("unexpected site health: %+v", health.Sites)
	}
	if health.Sites[0].FirstSample != "2019-06-01" || health.Sites[0].LastSample != "2019-07-01" {
		t.Errorf("unexpected sample range: %+v", health.Sites[0])
	}
}

func TestAPISites(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	w := get(t, srv, "/api/sites")
	var sites []api.SiteView
	if err := json.Unmarshal(w.Body.Bytes(), &sites); err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0].SiteID != "S1" || sites[0].River != "Ganga" {
		t.Errorf("unexpected sites: %+v", sites)
	}
}

func TestAPIWQI(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	if w := get(t, srv, "/api/wqi"); w.Code != 400 {
		t.Errorf("missing site: expected 400, got %d", w.Code)
	}
	if w := get(t, srv, "/api/wqi?site=NOPE"); w.Code != 404 {
		t.Errorf("unknown site: expected 404, got %d", w.Code)
	}

	w := get(t, srv, "/api/wqi?site=S1")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var points []api.WQIPoint
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0].Label != "2019 - Monsoon" || points[0].WQI == nil || *points[0].WQI != 71.5 {
		t.Errorf("unexpected first point: %+v", points[0])
	}
	if points[1].WQI != nil {
		t.Errorf("expected null wqi for undefined period, got %v", *points[1].WQI)
	}
	if !points[2].HasForecast {
		t.Error("expected forecast flag on last period")
	}
	if !strings.Contains(w.Body.String(), `"wqi":null`) {
		t.Error("expected explicit null in JSON")
	}
}

func TestAPIWQI_PeriodFilter(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	q := url.Values{"site": {"S1"}, "from": {"2019 - Post-Monsoon"}, "to": {"2020 - Winter"}}
	w := get(t, srv, "/api/wqi?"+q.Encode())
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var points []api.WQIPoint
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 || points[0].Label != "2019 - Post-Monsoon" || points[1].Label != "2020 - Winter" {
		t.Errorf("unexpected points: %+v", points)
	}

	q = url.Values{"site": {"S1"}, "to": {"2019 - Pre Monsoon"}}
	w = get(t, srv, "/api/wqi?"+q.Encode())
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 0 {
		t.Errorf("expected no points before 2019 Monsoon, got %d", len(points))
	}

	q = url.Values{"site": {"S1"}, "from": {"last winter"}}
	if w := get(t, srv, "/api/wqi?"+q.Encode()); w.Code != 400 {
		t.Errorf("invalid period: expected 400, got %d", w.Code)
	}
}

func TestAPIFits(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	w := get(t, srv, "/api/fits?site=S1")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("expected empty list before any run, got %s", body)
	}

	run, err := s.StartRun(store.RunPipeline, "S1", "")
	if err != nil {
		t.Fatal(err)
	}
	err = s.InsertForecastFits([]store.ForecastFit{
		{RunID: run.ID, SiteID: "S1", Parameter: "pH", Method: "sarima", Order: "(1,1,1)x(1,1,1)12",
			AIC: sql.NullFloat64{Float64: -3.5, Valid: true}, Confidence: sql.NullFloat64{Float64: 0.95, Valid: true},
			IntervalWidth: sql.NullFloat64{Float64: 0.3, Valid: true}, Duration: 25 * time.Millisecond},
		{RunID: run.ID, SiteID: "S1", Parameter: "Turb", Method: "skipped"},
	})
	if err != nil {
		t.Fatal(err)
	}

	w = get(t, srv, "/api/fits?site=S1")
	var fits []api.FitView
	if err := json.Unmarshal(w.Body.Bytes(), &fits); err != nil {
		t.Fatal(err)
	}
	if len(fits) != 2 {
		t.Fatalf("expected 2 fits, got %d", len(fits))
	}
	byParam := map[string]api.FitView{}
	for _, f := range fits {
		byParam[f.Parameter] = f
	}
	ph := byParam["pH"]
	if ph.Method != "sarima" || ph.AIC == nil || *ph.AIC != -3.5 || ph.DurationMS != 25 {
		t.Errorf("unexpected pH fit: %+v", ph)
	}
	if tb := byParam["Turb"]; tb.Method != "skipped" || tb.IntervalWidth != nil {
		t.Errorf("unexpected Turb fit: %+v", tb)
	}

	if w := get(t, srv, "/api/fits"); w.Code != 400 {
		t.Errorf("missing site: expected 400, got %d", w.Code)
	}
}

func TestAPISamples(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	if w := get(t, srv, "/api/samples?site=S1&source=bogus"); w.Code != 400 {
		t.Errorf("bad source: expected 400, got %d", w.Code)
	}
	if w := get(t, srv, "/api/samples?site=S1&limit=0"); w.Code != 400 {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}

	w := get(t, srv, "/api/samples?site=S1")
	var rows []api.SampleRow
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Date != "2019-06-01" || rows[0].Values["DO"] != nil || *rows[0].Values["pH"] != 7.1 {
		t.Errorf("unexpected first row: %+v", rows[0])
	}

	w = get(t, srv, "/api/samples?site=S1&limit=1")
	rows = nil
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Date != "2019-07-01" {
		t.Errorf("expected latest row only, got %+v", rows)
	}

	w = get(t, srv, "/api/samples?site=S1&source=forecast")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected no forecast rows, got %s", w.Body.String())
	}
}

func TestAPIThresholds(t *testing.T) {
	srv := newServer(t, setupTestStore(t))

	w := get(t, srv, "/api/thresholds")
	var ths []api.ThresholdView
	if err := json.Unmarshal(w.Body.Bytes(), &ths); err != nil {
		t.Fatal(err)
	}
	if len(ths) != 10 {
		t.Fatalf("expected 10 thresholds, got %d", len(ths))
	}
	for _, th := range ths {
		switch th.Parameter {
		case "DO":
			if th.Kind != "lower" || th.Lower == nil || *th.Lower != 5 || th.Upper != nil {
				t.Errorf("unexpected DO threshold: %+v", th)
			}
		case "pH":
			if th.Kind != "two_sided" || *th.Lower != 6.5 || *th.Upper != 8.5 {
				t.Errorf("unexpected pH threshold: %+v", th)
			}
		}
	}
}

func TestChart(t *testing.T) {
	s := setupTestStore(t)
	if err := s.UpsertSite(models.Site{SiteID: "EMPTY", Active: true}); err != nil {
		t.Fatal(err)
	}
	seedSite(t, s)
	srv := newServer(t, s)

	if w := get(t, srv, "/chart.png?site=EMPTY"); w.Code != 404 {
		t.Errorf("no results: expected 404, got %d", w.Code)
	}

	w := get(t, srv, "/chart.png?site=S1")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("expected PNG signature")
	}
}

func TestChart_InvalidatedAfterRun(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	before := get(t, srv, "/chart.png?site=S1").Body.Bytes()

	run := srv.RunSite(func(ctx context.Context, siteID string) error {
		return s.ReplaceWQIResults(siteID, []models.WQIResult{
			{SiteID: siteID, Year: 2021, Season: "Winter", Label: "2021 - Winter", Parameters: 10, Tests: 10,
				WQI: sql.NullFloat64{Float64: 40, Valid: true}, Rating: "Poor", ComputedAt: time.Now()},
		})
	})
	if err := run(context.Background(), "S1"); err != nil {
		t.Fatal(err)
	}

	after := get(t, srv, "/chart.png?site=S1").Body.Bytes()
	if bytes.Equal(before, after) {
		t.Error("expected chart to be re-rendered after run")
	}
}

func TestReport_Disabled(t *testing.T) {
	s := setupTestStore(t)
	seedSite(t, s)
	srv := newServer(t, s)

	if w := get(t, srv, "/api/report?site=S1"); w.Code != 503 {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestIndexPage(t *testing.T) {
	s := setupTestStore(t)
	srv := newServer(t, s)

	w := get(t, srv, "/")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `class="intro"`) {
		t.Error("expected intro when there are no sites")
	}

	seedSite(t, s)
	body := get(t, srv, "/?site=S1").Body.String()
	for _, want := range []string{
		"<h2 id=\"site\">Ghat 4 (Ganga)</h2>",
		`src="/chart.png?site=S1"`,
		"<td>2019 - Post-Monsoon</td>",
		"Latest observed: <strong class=\"rating-fair\">71.5 Fair</strong>",
		`<tr class="forecast">`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in index page", want)
		}
	}

	if w := get(t, srv, "/nope"); w.Code != 404 {
		t.Errorf("expected 404 for unknown path, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t, setupTestStore(t))

	w := get(t, srv, "/metrics")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default collectors in metrics output")
	}
}

func TestReport(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Fair, improving."}}]}`))
	}))
	defer llm.Close()

	writer, err := narrative.NewWriter("test-key", llm.URL)
	if err != nil {
		t.Fatal(err)
	}
	s := setupTestStore(t)
	seedSite(t, s)
	srv := api.NewServer(s, "8080", wqi.DefaultReference(), writer)

	w := get(t, srv, "/api/report?site=S1")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["summary"] != "Fair, improving." || out["site_id"] != "S1" {
		t.Errorf("unexpected report: %v", out)
	}
}
