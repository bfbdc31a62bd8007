package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/augur/internal/engine"
	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/series"
)

func submitTask(t *testing.T, baseURL, ownerID, subjectID, kind, params string) model.WorkItem {
	t.Helper()
	body := map[string]any{"owner_id": ownerID, "subject_id": subjectID, "kind": kind}
	if params != "" {
		body["params"] = json.RawMessage(params)
	}
	b, _ := json.Marshal(body)
	resp := postJSON(t, baseURL+"/v1/tasks", string(b))
	if resp.StatusCode != http.StatusAccepted {
		resp.Body.Close()
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var task model.WorkItem
	decodeBody(t, resp, &task)
	return task
}

func getTask(t *testing.T, baseURL, id string) model.WorkItem {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/tasks/" + id)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("GET task status = %d, want 200", resp.StatusCode)
	}
	var task model.WorkItem
	decodeBody(t, resp, &task)
	return task
}

func getOwner(t *testing.T, baseURL, id string) model.Owner {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/owners/" + id)
	if err != nil {
		t.Fatalf("GET owner: %v", err)
	}
	var o model.Owner
	decodeBody(t, resp, &o)
	return o
}

// reconcileUntilTerminal triggers passes until the task is done or failed.
func reconcileUntilTerminal(t *testing.T, baseURL, id string, timeout time.Duration) model.WorkItem {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp := postJSON(t, baseURL+"/v1/reconcile", "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("reconcile status = %d, want 200", resp.StatusCode)
		}
		task := getTask(t, baseURL, id)
		if model.IsTerminal(task.Status) {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s not terminal within %v", id, timeout)
	return model.WorkItem{}
}

func TestSubmitTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	o := createTestOwner(t, ts.URL, 100)
	s := createTestSeries(t, ts.URL, o.ID)

	task := submitTask(t, ts.URL, o.ID, s.ID, model.KindForecast, `{"model":"naive","horizon":4}`)
	if task.Status != model.StatusQueued {
		t.Errorf("Status = %q, want queued", task.Status)
	}
	if task.Cost != testPrices.Forecast {
		t.Errorf("Cost = %d, want %d", task.Cost, testPrices.Forecast)
	}
	if got := getOwner(t, ts.URL, o.ID).Balance; got != 70 {
		t.Errorf("balance = %d, want 70", got)
	}
}

func TestSubmitTaskRejections(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	poor := createTestOwner(t, ts.URL, 5)
	rich := createTestOwner(t, ts.URL, 100)
	poorSeries := createTestSeries(t, ts.URL, poor.ID)
	richSeries := createTestSeries(t, ts.URL, rich.ID)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown kind", `{"owner_id":"` + rich.ID + `","subject_id":"` + richSeries.ID + `","kind":"cluster"}`, http.StatusBadRequest},
		{"bad horizon", `{"owner_id":"` + rich.ID + `","subject_id":"` + richSeries.ID + `","kind":"forecast","params":{"model":"naive","horizon":0}}`, http.StatusBadRequest},
		{"insufficient funds", `{"owner_id":"` + poor.ID + `","subject_id":"` + poorSeries.ID + `","kind":"analyze"}`, http.StatusPaymentRequired},
		{"foreign series", `{"owner_id":"` + rich.ID + `","subject_id":"` + poorSeries.ID + `","kind":"analyze"}`, http.StatusForbidden},
		{"unknown series", `{"owner_id":"` + rich.ID + `","subject_id":"nothing","kind":"analyze"}`, http.StatusNotFound},
		{"unknown owner", `{"owner_id":"nobody","subject_id":"` + richSeries.ID + `","kind":"analyze"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/tasks", tt.body)
			var errResp map[string]string
			decodeBody(t, resp, &errResp)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.want, errResp["error"])
			}
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}

	if got := getOwner(t, ts.URL, poor.ID).Balance; got != 5 {
		t.Errorf("poor balance = %d, want 5", got)
	}
	if got := getOwner(t, ts.URL, rich.ID).Balance; got != 100 {
		t.Errorf("rich balance = %d, want 100", got)
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	o := createTestOwner(t, ts.URL, 100)
	s := createTestSeries(t, ts.URL, o.ID)

	analyze := submitTask(t, ts.URL, o.ID, s.ID, model.KindAnalyze, "")
	forecast := submitTask(t, ts.URL, o.ID, s.ID, model.KindForecast, `{"model":"historic_average","horizon":3}`)

	for _, id := range []string{analyze.ID, forecast.ID} {
		task := reconcileUntilTerminal(t, ts.URL, id, 5*time.Second)
		if task.Status != model.StatusDone {
			t.Errorf("task %s status = %q (%s), want done", id, task.Status, task.Error)
		}
	}

	if got := getOwner(t, ts.URL, o.ID).Balance; got != 60 {
		t.Errorf("balance = %d, want 60", got)
	}

	resp, err := http.Get(ts.URL + "/v1/series/" + s.ID)
	if err != nil {
		t.Fatalf("GET series: %v", err)
	}
	var got model.TimeSeries
	decodeBody(t, resp, &got)

	var analysis series.Analysis
	if err := json.Unmarshal(got.AnalysisResult, &analysis); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if analysis.Count != 60 {
		t.Errorf("analysis count = %d, want 60", analysis.Count)
	}
	var values []float64
	if err := json.Unmarshal(got.ForecastResult, &values); err != nil {
		t.Fatalf("decode forecast: %v", err)
	}
	if len(values) != 3 {
		t.Errorf("forecast length = %d, want 3", len(values))
	}
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	a := createTestOwner(t, ts.URL, 100)
	b := createTestOwner(t, ts.URL, 100)
	sa := createTestSeries(t, ts.URL, a.ID)
	sb := createTestSeries(t, ts.URL, b.ID)
	for range 3 {
		submitTask(t, ts.URL, a.ID, sa.ID, model.KindAnalyze, "")
	}
	submitTask(t, ts.URL, b.ID, sb.ID, model.KindAnalyze, "")

	tests := []struct {
		query     string
		wantTotal int
		wantLen   int
		wantLimit int
	}{
		{"", 4, 4, defaultListLimit},
		{"?owner_id=" + a.ID, 3, 3, defaultListLimit},
		{"?owner_id=" + a.ID + "&limit=2", 3, 2, 2},
		{"?owner_id=" + a.ID + "&limit=2&offset=2", 3, 1, 2},
		{"?limit=1000", 4, 4, defaultListLimit},
		{"?owner_id=nobody", 0, 0, defaultListLimit},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + "/v1/tasks" + tt.query)
		if err != nil {
			t.Fatalf("GET tasks%s: %v", tt.query, err)
		}
		var list listTasksResponse
		decodeBody(t, resp, &list)
		if list.Total != tt.wantTotal || len(list.Tasks) != tt.wantLen || list.Limit != tt.wantLimit {
			t.Errorf("GET tasks%s: total=%d len=%d limit=%d, want %d %d %d",
				tt.query, list.Total, len(list.Tasks), list.Limit, tt.wantTotal, tt.wantLen, tt.wantLimit)
		}
		if list.Tasks == nil {
			t.Errorf("GET tasks%s: tasks is null", tt.query)
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/reconcile", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sum engine.PassSummary
	decodeBody(t, resp, &sum)
	if sum.Processed != 0 {
		t.Errorf("processed = %d, want 0", sum.Processed)
	}
}

func TestReconcileEndpointStoreDown(t *testing.T) {
	srv := newTestServer(t)
	srv.store.Close()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/reconcile", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestListFunctions(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/functions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var got functionsResponse
	decodeBody(t, resp, &got)

	if len(got.Functions) != 2 || got.Functions[0] != series.FuncAnalyze || got.Functions[1] != series.FuncForecast {
		t.Errorf("functions = %v, want [%s %s]", got.Functions, series.FuncAnalyze, series.FuncForecast)
	}
	if len(got.ForecastModels) != len(series.Models) {
		t.Errorf("forecast models = %v, want %v", got.ForecastModels, series.Models)
	}
	if got.Prices != testPrices {
		t.Errorf("prices = %+v, want %+v", got.Prices, testPrices)
	}
}
