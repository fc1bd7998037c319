package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"varianthunter/internal/adapters/httpapi"
	"varianthunter/internal/blob"
	"varianthunter/internal/core"
	"varianthunter/internal/export"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const addPayload = `{
	"rows": [
		{"protein": "S", "mut": "A", "slope": -1, "f4": 10, "w4": 3},
		{"protein": "S", "mut": "B", "slope": 2, "p_value_comp": 0.00012},
		{"protein": "N", "mut": "C", "slope": 0}
	],
	"totalSequenceCounts": [1, 2, 3, 4],
	"metadata": {
		"location": {"continent": "Europe"},
		"date": "2021-06-30"
	}
}`

type fixture struct {
	router *gin.Engine
	svc    *core.Service
	worker *export.Worker
}

func newFixture(t *testing.T, metrics bool) fixture {
	t.Helper()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine())
	exporter := export.NewExporter(svc, blob.NewMemory())
	worker := export.NewWorker(exporter, 4)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	server := httpapi.NewServer(svc, exporter, worker, nil)
	return fixture{router: server.Router(httpapi.Options{Metrics: metrics}), svc: svc, worker: worker}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthAndOperations(t *testing.T) {
	f := newFixture(t, false)
	if w := f.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/v1/operations", "")
	var resp struct {
		Operations []string `json:"operations"`
	}
	decode(t, w, &resp)
	if len(resp.Operations) != len(core.Operations()) {
		t.Fatalf("unexpected operations %v", resp.Operations)
	}
}

func TestCommandsAndReads(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(t, http.MethodPost, "/v1/commands/addAnalysis", addPayload)
	if w.Code != http.StatusOK {
		t.Fatalf("add analysis: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/v1/commands/addTag", `"wave"`); w.Code != http.StatusOK {
		t.Fatalf("add tag: %d %s", w.Code, w.Body.String())
	}

	var list struct {
		Analyses []core.AnalysisSummary `json:"analyses"`
	}
	decode(t, f.do(t, http.MethodGet, "/v1/analyses?mode=li", ""), &list)
	if len(list.Analyses) != 1 || list.Analyses[0].Tag == nil || *list.Analyses[0].Tag != "WAVE" {
		t.Fatalf("unexpected summary %+v", list.Analyses)
	}

	var rows struct {
		Rows []core.MutationRow `json:"rows"`
	}
	decode(t, f.do(t, http.MethodGet, "/v1/analyses/0/rows", ""), &rows)
	if len(rows.Rows) != 3 || rows.Rows[0].ItemKey() != "S_B" {
		t.Fatalf("unexpected sorted rows %+v", rows.Rows)
	}

	if w := f.do(t, http.MethodGet, "/v1/analyses/current", ""); w.Code != http.StatusOK {
		t.Fatalf("current: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/analyses/0/plot", ""); w.Code != http.StatusOK {
		t.Fatalf("plot: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/tags", ""); !strings.Contains(w.Body.String(), "WAVE") {
		t.Fatalf("tags: %s", w.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, false)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown operation", http.MethodPost, "/v1/commands/dropTables", `{}`, http.StatusNotFound},
		{"invalid payload", http.MethodPost, "/v1/commands/addAnalysis", `{"rows": 1}`, http.StatusBadRequest},
		{"missing analysis", http.MethodGet, "/v1/analyses/7", "", http.StatusNotFound},
		{"bad analysis id", http.MethodGet, "/v1/analyses/x", "", http.StatusBadRequest},
		{"no current analysis", http.MethodGet, "/v1/analyses/current", "", http.StatusConflict},
		{"notes without current", http.MethodPost, "/v1/commands/setNotes", `"x"`, http.StatusConflict},
		{"bad summary mode", http.MethodGet, "/v1/analyses?mode=xx", "", http.StatusBadRequest},
		{"unknown row view", http.MethodGet, "/v1/analyses/0/rows?view=all", "", http.StatusBadRequest},
		{"unknown export", http.MethodGet, "/v1/exports/nope", "", http.StatusNotFound},
		{"export without id", http.MethodPost, "/v1/exports", `{"formats": ["csv"]}`, http.StatusBadRequest},
		{"bad lineage level", http.MethodPost, "/v1/lineages/compact", `{"level": 3, "rows": []}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			var resp httpapi.ErrorResponse
			decode(t, w, &resp)
			if resp.Error == "" || resp.Code == "" {
				t.Fatalf("expected error body, got %s", w.Body.String())
			}
		})
	}
}

func TestCompactLineages(t *testing.T) {
	f := newFixture(t, false)
	body := `{"level": 1, "rows": [
		{"name": "BA.2.1", "f4": 2, "w4": 2},
		{"name": "BA.2.3", "f4": 3, "w4": 3},
		{"name": "BA.2.12", "f4": 40, "w4": 40}
	]}`
	w := f.do(t, http.MethodPost, "/v1/lineages/compact", body)
	if w.Code != http.StatusOK {
		t.Fatalf("compact: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Lineages []struct {
			Name string `json:"name"`
			W4   int    `json:"w4"`
		} `json:"lineages"`
	}
	decode(t, w, &resp)
	if len(resp.Lineages) != 2 {
		t.Fatalf("expected summary plus dominant row, got %+v", resp.Lineages)
	}
	if resp.Lineages[0].Name != "BA.2.*" || resp.Lineages[0].W4 != 5 || resp.Lineages[1].Name != "BA.2.12" {
		t.Fatalf("unexpected lineages %+v", resp.Lineages)
	}
}

func TestDownloadAndQueuedExport(t *testing.T) {
	f := newFixture(t, false)
	if w := f.do(t, http.MethodPost, "/v1/commands/addAnalysis", addPayload); w.Code != http.StatusOK {
		t.Fatalf("add analysis: %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/v1/analyses/0/export?format=csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="Europe_2021-06-30.csv"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	lines := strings.Split(w.Body.String(), "\r\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[1], `"S","B","2.000","","","1.200e-4"`) {
		t.Fatalf("unexpected csv %q", w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/exports", `{"analysisId": 0, "formats": ["json", "yaml"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", w.Code, w.Body.String())
	}
	var queued struct {
		Export export.ExportRecord `json:"export"`
	}
	decode(t, w, &queued)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var got struct {
			Export export.ExportRecord `json:"export"`
		}
		decode(t, f.do(t, http.MethodGet, "/v1/exports/"+queued.Export.ID, ""), &got)
		if got.Export.Status == export.StatusSucceeded {
			if len(got.Export.Artifacts) != 2 {
				t.Fatalf("unexpected artifacts %+v", got.Export.Artifacts)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export never completed: %+v", got.Export)
		}
		time.Sleep(time.Millisecond)
	}

	artifactPath := "/v1/exports/" + queued.Export.ID + "/artifacts/Europe_2021-06-30.json"
	w = f.do(t, http.MethodGet, artifactPath, "")
	if w.Code != http.StatusOK {
		t.Fatalf("artifact stat: %d %s", w.Code, w.Body.String())
	}
	var stat struct {
		Artifact struct {
			Key         string            `json:"key"`
			ContentType string            `json:"content_type"`
			Metadata    map[string]string `json:"metadata"`
		} `json:"artifact"`
	}
	decode(t, w, &stat)
	if stat.Artifact.ContentType != "application/json" || stat.Artifact.Metadata["export_id"] != queued.Export.ID {
		t.Fatalf("unexpected artifact %+v", stat.Artifact)
	}
	if w := f.do(t, http.MethodGet, "/v1/exports/"+queued.Export.ID+"/artifacts/missing.csv", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected missing artifact 404, got %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/v1/exports/"+queued.Export.ID, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete export: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodGet, artifactPath, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected artifact removed, got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/v1/exports/"+queued.Export.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected second delete 404, got %d", w.Code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	if w := newFixture(t, true).do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", w.Code)
	}
	if w := newFixture(t, false).do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected metrics disabled, got %d", w.Code)
	}
}
