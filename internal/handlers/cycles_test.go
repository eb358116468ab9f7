package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartfilterpro/internal/models"
	"smartfilterpro/internal/service"
)

func TestCyclesHandler_ListAndValidation(t *testing.T) {
	auth := &mockAuth{parseID: 99}
	now := time.Now().UTC().Truncate(time.Second)
	runtime := int64(540)
	events := []models.CycleEvent{
		{EventID: "e1", OccurredAt: now, Type: "start", Mode: "heating"},
		{EventID: "e2", OccurredAt: now.Add(9 * time.Minute), Type: "end", Mode: "heating", RuntimeSeconds: &runtime},
	}
	logs := &mockEventLog{resp: events}
	s := &service.Service{
		Authorization: auth,
		EventLog:      logs,
	}
	r := newTestRouter(s)

	// Missing/invalid 'from' → 400
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles/?from=notatime", nil)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'from', got %d", w.Code)
	}

	// Unknown 'type' → 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cycles/?type=mode_change", nil)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 invalid 'type', got %d", w.Code)
	}

	// Valid range and type (uppercase type should be normalized to lower in service call)
	w = httptest.NewRecorder()
	q := "/api/v1/cycles/?from=" + now.Format(time.RFC3339) + "&to=" + now.Add(10*time.Minute).Format(time.RFC3339) + "&type=END"
	req = httptest.NewRequest(http.MethodGet, q, nil)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cycles status=%d, body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Count  int                 `json:"count"`
		Events []models.CycleEvent `json:"events"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 || len(out.Events) != 2 {
		t.Fatalf("unexpected response: %+v", out)
	}
	if logs.lastType != "end" {
		t.Fatalf("expected lastType end, got %q", logs.lastType)
	}

	// Date-only 'to' becomes end-of-day inclusive
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cycles/?to=2026-08-20", nil)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cycles status=%d, body=%s", w.Code, w.Body.String())
	}
	endOfDay := time.Date(2026, 8, 20, 23, 59, 59, 999999999, time.UTC)
	if !logs.lastTo.Equal(endOfDay) {
		t.Fatalf("date-only 'to' = %v; want %v", logs.lastTo, endOfDay)
	}
}
