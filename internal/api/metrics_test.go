package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/augur/internal/model"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestResourceOf(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"/v1/tasks/{id}", "tasks"},
		{"/v1/tasks/{id}/events", "tasks"},
		{"/v1/owners/", "owners"},
		{"/v1/stats", "stats"},
		{"/healthz", resourceSystem},
		{"/metrics", resourceSystem},
		{resourceUnmatched, resourceUnmatched},
	}
	for _, tt := range tests {
		if got := resourceOf(tt.route); got != tt.want {
			t.Errorf("resourceOf(%q) = %q, want %q", tt.route, got, tt.want)
		}
	}
}

func TestAPIErrorsCountedByReason(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	poor := createTestOwner(t, ts.URL, 0)
	s := createTestSeries(t, ts.URL, poor.ID)

	funds := apiErrorsTotal.WithLabelValues(reasonFunds)
	validation := apiErrorsTotal.WithLabelValues(reasonValidation)
	beforeFunds := counterValue(t, funds)
	beforeValidation := counterValue(t, validation)

	resp := postJSON(t, ts.URL+"/v1/tasks", `{"owner_id":"`+poor.ID+`","subject_id":"`+s.ID+`","kind":"analyze"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/v1/tasks", `{"owner_id":"`+poor.ID+`","subject_id":"`+s.ID+`","kind":"bogus"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	if got := counterValue(t, funds) - beforeFunds; got != 1 {
		t.Errorf("insufficient_funds delta = %v, want 1", got)
	}
	if got := counterValue(t, validation) - beforeValidation; got != 1 {
		t.Errorf("validation delta = %v, want 1", got)
	}
}

func TestRequestsLabeledByResource(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	o := createTestOwner(t, ts.URL, 100)
	s := createTestSeries(t, ts.URL, o.ID)
	task := submitTask(t, ts.URL, o.ID, s.ID, model.KindAnalyze, "")

	requests := httpRequestsTotal.WithLabelValues("tasks", "/v1/tasks/{id}", http.MethodGet, "2xx")
	before := counterValue(t, requests)

	getTask(t, ts.URL, task.ID)
	getTask(t, ts.URL, task.ID)

	if got := counterValue(t, requests) - before; got != 2 {
		t.Errorf("tasks request delta = %v, want 2", got)
	}
}
