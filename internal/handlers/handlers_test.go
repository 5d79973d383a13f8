// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ColinMcArthur85/dns-diagnostic/internal/diagnose"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/handlers"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/middleware"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/models"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/rules"
	"github.com/ColinMcArthur85/dns-diagnostic/internal/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQuerier struct {
	answers map[string]*models.RecordSet
}

func (f *fakeQuerier) Query(ctx context.Context, recordType, host string) *models.RecordSet {
	if rs, ok := f.answers[strings.ToUpper(recordType)+" "+host]; ok {
		copied := *rs
		return &copied
	}
	return &models.RecordSet{Error: models.ErrNoAnswer}
}

func (f *fakeQuerier) ResolveCNAMEChain(ctx context.Context, host string) (string, []string, bool) {
	return host, []string{host}, true
}

type fakeWhois struct{}

func (fakeWhois) Lookup(ctx context.Context, domain string) models.WhoisInfo {
	return models.WhoisInfo{NameServers: []string{}}
}

func setupRouter(t *testing.T, limiter middleware.RateLimiter) *gin.Engine {
	t.Helper()
	s, err := rules.Load("")
	if err != nil {
		t.Fatal(err)
	}

	answers := map[string]*models.RecordSet{
		"NS example.com": {Records: []models.RecordEntry{
			{Type: "NS", Host: "example.com", Value: "ns.liquidweb.com"},
			{Type: "NS", Host: "example.com", Value: "ns1.liquidweb.com"},
		}},
	}
	collector := snapshot.NewCollector(&fakeQuerier{answers: answers}, fakeWhois{}, s.Email.DKIMSelectors)

	h := &handlers.Handler{
		Diagnoser: diagnose.New(s, diagnose.WithCollector(collector)),
		Limiter:   limiter,
		Version:   "test",
	}

	router := gin.New()
	router.Use(middleware.RequestContext())
	router.POST("/api/diagnose", h.Diagnose)
	router.GET("/healthz", h.Healthz)
	router.GET("/api/stats", h.Stats)
	return router
}

func postDiagnose(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/diagnose", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestDiagnoseMissingFields(t *testing.T) {
	router := setupRouter(t, nil)

	for _, body := range []string{"", "{}", `{"domain":"example.com"}`, `{"platform":"attractwell"}`, "not json"} {
		w := postDiagnose(router, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestDiagnoseInvalidDomain(t *testing.T) {
	router := setupRouter(t, nil)

	w := postDiagnose(router, `{"domain":"server.local","platform":"attractwell"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if msg, _ := resp["error"].(string); msg == "" {
		t.Error("error body missing")
	}
}

func TestDiagnoseUnknownPlatform(t *testing.T) {
	router := setupRouter(t, nil)

	w := postDiagnose(router, `{"domain":"example.com","platform":"wordpress"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDiagnoseSuccess(t *testing.T) {
	router := setupRouter(t, nil)

	w := postDiagnose(router, `{
		"domain": "example.com",
		"platform": "attractwell",
		"intent": {"comfortable_editing_dns": true, "registrar_known": true}
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result models.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Domain != "example.com" {
		t.Errorf("domain = %q", result.Domain)
	}
	if result.ConnectionOption != models.OptionNameserverDelegation {
		t.Errorf("option = %q, want nameserver_delegation", result.ConnectionOption)
	}
	if !result.IsCompleted {
		t.Errorf("IsCompleted = false; actions: %+v", result.RecommendedActions)
	}
	if result.StatusMessage == "" {
		t.Error("status message missing")
	}
}

func TestDiagnoseRateLimited(t *testing.T) {
	router := setupRouter(t, middleware.NewInMemoryRateLimiter())
	body := `{"domain":"example.com","platform":"attractwell"}`

	if w := postDiagnose(router, body); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	w := postDiagnose(router, body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestHealthz(t *testing.T) {
	router := setupRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v", resp["version"])
	}
}

func TestStatsDisabledWithoutDatabase(t *testing.T) {
	router := setupRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no database is configured", w.Code)
	}
}

func TestDiagnoseUnknownEmailChoice(t *testing.T) {
	router := setupRouter(t, nil)

	w := postDiagnose(router, `{"domain":"example.com","platform":"attractwell","intent":{"email_choice":"gmail"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if msg, _ := resp["error"].(string); !strings.Contains(msg, "email_choice") {
		t.Errorf("error = %q, want it to name email_choice", msg)
	}
}
