package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carlsuburbmates/dogtriage/internal/metrics"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
	"github.com/carlsuburbmates/dogtriage/internal/triage"
)

const testToken = "test-token-12345"

type fakeTriager struct {
	lastReq  triage.Request
	decision triage.Decision
}

func (f *fakeTriager) Triage(ctx context.Context, req triage.Request) (triage.Decision, error) {
	f.lastReq = req
	if strings.TrimSpace(req.Text) == "" {
		return triage.Decision{}, triage.ErrEmptyInput
	}
	return f.decision, nil
}

type fakeLogStore struct {
	logs       map[string]storage.TriageLog
	lastFilter storage.LogFilter
	resolution *storage.ResolutionFeedback
	appErrors  []storage.AppError
}

func (f *fakeLogStore) GetTriageLog(id string) (storage.TriageLog, error) {
	l, ok := f.logs[id]
	if !ok {
		return storage.TriageLog{}, storage.ErrNotFound
	}
	return l, nil
}

func (f *fakeLogStore) ListTriageLogs(filter storage.LogFilter) ([]storage.TriageLog, int, error) {
	f.lastFilter = filter
	var out []storage.TriageLog
	for _, l := range f.logs {
		out = append(out, l)
	}
	return out, len(out), nil
}

func (f *fakeLogStore) EventsForLog(logID string) ([]storage.TriageEvent, error) {
	return []storage.TriageEvent{{ID: 1, TriageLogID: logID, Stage: "heuristics", Payload: "{}"}}, nil
}

func (f *fakeLogStore) UpsertResolution(r storage.ResolutionFeedback) error {
	if _, ok := f.logs[r.TriageLogID]; !ok {
		return storage.ErrNotFound
	}
	f.resolution = &r
	return nil
}

func (f *fakeLogStore) GetResolution(logID string) (storage.ResolutionFeedback, error) {
	if f.resolution == nil || f.resolution.TriageLogID != logID {
		return storage.ResolutionFeedback{}, storage.ErrNotFound
	}
	return *f.resolution, nil
}

func (f *fakeLogStore) RecentAppErrors(limit int) ([]storage.AppError, error) {
	return f.appErrors, nil
}

type fakeMetrics struct {
	latest   *metrics.WeeklySummary
	computed []time.Time
}

func (f *fakeMetrics) LatestWeekly() (metrics.WeeklySummary, error) {
	if f.latest == nil {
		return metrics.WeeklySummary{}, storage.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeMetrics) ComputeWeekly(ctx context.Context, weekStart time.Time) (metrics.WeeklySummary, error) {
	f.computed = append(f.computed, weekStart)
	return metrics.WeeklySummary{WeekStart: weekStart, TotalTriages: 3}, nil
}

func (f *fakeMetrics) Hourly(hours int) ([]metrics.HourlyPoint, error) {
	return make([]metrics.HourlyPoint, hours), nil
}

func testDecision() triage.Decision {
	return triage.Decision{
		Result: triage.Result{
			Classification:    triage.CategoryMedical,
			Confidence:        0.9,
			Summary:           "Likely medical emergency",
			RecommendedAction: triage.ActionVet,
			Urgency:           triage.UrgencyImmediate,
		},
		Medical:    triage.MedicalAssessment{IsMedical: true, Severity: triage.SeveritySerious},
		Source:     triage.SourceDeterministic,
		Mode:       triage.ModeDisabled,
		LogID:      uuid.NewString(),
		DurationMs: 12,
	}
}

func setupHandler(token string) (http.Handler, *fakeTriager, *fakeLogStore, *fakeMetrics) {
	tr := &fakeTriager{decision: testDecision()}
	store := &fakeLogStore{logs: map[string]storage.TriageLog{}}
	m := &fakeMetrics{}
	h := NewAppHandler(AppDeps{Router: tr, Store: store, Metrics: m, Token: token})
	return h, tr, store, m
}

func doReq(h http.Handler, method, url, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTriageEndpoint(t *testing.T) {
	h, tr, _, _ := setupHandler("")

	body := `{"text":"my dog is bleeding","suburb":"Brunswick","tags":["after-hours"]}`
	rr := doReq(h, http.MethodPost, "/v1/triage", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var v TriageView
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Classification != "medical" {
		t.Errorf("classification = %q, want medical", v.Classification)
	}
	if v.Urgency != "immediate" || v.RecommendedAction != "vet" {
		t.Errorf("urgency/action = %q/%q", v.Urgency, v.RecommendedAction)
	}
	if v.Medical == nil || !v.Medical.IsMedical {
		t.Errorf("medical = %+v, want present for a medical decision", v.Medical)
	}
	if v.DurationMs != 12 {
		t.Errorf("duration_ms = %d, want 12", v.DurationMs)
	}
	if v.LogID == "" {
		t.Error("log_id missing from response")
	}
	if tr.lastReq.Suburb != "Brunswick" {
		t.Errorf("Suburb = %q, want Brunswick", tr.lastReq.Suburb)
	}
	if len(tr.lastReq.Tags) != 1 || tr.lastReq.Tags[0] != "after-hours" {
		t.Errorf("Tags = %v", tr.lastReq.Tags)
	}
}

// A non-medical decision carries no medical block on the wire.
func TestTriageEndpoint_OmitsNonMedical(t *testing.T) {
	h, tr, _, _ := setupHandler("")
	tr.decision = triage.Decision{
		Result: triage.Result{
			Classification:    triage.CategoryNormal,
			Confidence:        0.5,
			Summary:           "No emergency indicators detected",
			RecommendedAction: triage.ActionOther,
			Urgency:           triage.UrgencyLow,
		},
		Medical: triage.MedicalAssessment{IsMedical: false, Severity: triage.SeverityMinor},
		Source:  triage.SourceDeterministic,
		Mode:    triage.ModeDisabled,
		LogID:   uuid.NewString(),
	}

	rr := doReq(h, http.MethodPost, "/v1/triage", `{"text":"what should I feed my puppy"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var raw map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["medical"]; ok {
		t.Error("medical present in response, want omitted")
	}
	if _, ok := raw["token_usage"]; ok {
		t.Error("token_usage present without LLM calls, want omitted")
	}
	if raw["classification"] != "normal" {
		t.Errorf("classification = %v, want normal", raw["classification"])
	}
}

func TestTriageEndpoint_EmptyText(t *testing.T) {
	h, _, _, _ := setupHandler("")

	rr := doReq(h, http.MethodPost, "/v1/triage", `{"text":"  "}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestTriageEndpoint_BadJSON(t *testing.T) {
	h, _, _, _ := setupHandler("")

	rr := doReq(h, http.MethodPost, "/v1/triage", `{not json`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestResolutionEndpoint(t *testing.T) {
	h, _, store, _ := setupHandler("")
	store.logs["log-1"] = storage.TriageLog{ID: "log-1", Classification: "medical"}

	rr := doReq(h, http.MethodPost, "/v1/triage/log-1/resolution", `{"actual_category":"medical"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["was_correct"] != true {
		t.Errorf("was_correct = %v, want true", resp["was_correct"])
	}
	if store.resolution == nil {
		t.Fatal("resolution not stored")
	}
	if store.resolution.PredictedCategory != "medical" {
		t.Errorf("PredictedCategory = %q", store.resolution.PredictedCategory)
	}
}

func TestResolutionEndpoint_WrongPrediction(t *testing.T) {
	h, _, store, _ := setupHandler("")
	store.logs["log-1"] = storage.TriageLog{ID: "log-1", Classification: "medical"}

	rr := doReq(h, http.MethodPost, "/v1/triage/log-1/resolution", `{"actual_category":"stray"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["was_correct"] != false {
		t.Errorf("was_correct = %v, want false", resp["was_correct"])
	}
}

func TestResolutionEndpoint_UnknownLog(t *testing.T) {
	h, _, _, _ := setupHandler("")

	rr := doReq(h, http.MethodPost, "/v1/triage/missing/resolution", `{"actual_category":"stray"}`, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestResolutionEndpoint_InvalidCategory(t *testing.T) {
	h, _, store, _ := setupHandler("")
	store.logs["log-1"] = storage.TriageLog{ID: "log-1", Classification: "medical"}

	rr := doReq(h, http.MethodPost, "/v1/triage/log-1/resolution", `{"actual_category":"alien"}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	h, _, _, _ := setupHandler(testToken)

	if rr := doReq(h, http.MethodGet, "/v1/triage/logs", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := doReq(h, http.MethodGet, "/v1/triage/logs", "", "wrong-token"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := doReq(h, http.MethodGet, "/v1/triage/logs", "", testToken); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

// Without a configured token the admin surface does not exist at all.
func TestAdminRoutes_AbsentWithoutToken(t *testing.T) {
	h, _, _, _ := setupHandler("")

	rr := doReq(h, http.MethodGet, "/v1/triage/logs", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestListLogs_FilterPassthrough(t *testing.T) {
	h, _, store, _ := setupHandler(testToken)

	url := "/v1/triage/logs?classification=medical&urgency=immediate&is_medical=true&tag=a&tag=b&limit=5&offset=10"
	rr := doReq(h, http.MethodGet, url, "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	f := store.lastFilter
	if f.Classification != "medical" || f.Urgency != "immediate" {
		t.Errorf("filter = %+v", f)
	}
	if f.IsMedical == nil || !*f.IsMedical {
		t.Errorf("IsMedical = %v, want true", f.IsMedical)
	}
	if len(f.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", f.Tags)
	}
	if f.Limit != 5 || f.Offset != 10 {
		t.Errorf("Limit/Offset = %d/%d, want 5/10", f.Limit, f.Offset)
	}
}

func TestGetLog_WithEvents(t *testing.T) {
	h, _, store, _ := setupHandler(testToken)
	store.logs["log-1"] = storage.TriageLog{
		ID:             "log-1",
		Classification: "medical",
		Medical:        `{"is_medical":true}`,
		RequestMeta:    `{"source":"cli"}`,
		Tags:           `["x"]`,
	}

	rr := doReq(h, http.MethodGet, "/v1/triage/logs/log-1", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Log    LogView     `json:"log"`
		Events []EventView `json:"events"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Log.Meta["source"] != "cli" {
		t.Errorf("Meta = %v", resp.Log.Meta)
	}
	if len(resp.Log.Tags) != 1 || resp.Log.Tags[0] != "x" {
		t.Errorf("Tags = %v", resp.Log.Tags)
	}
	if len(resp.Events) != 1 || resp.Events[0].Stage != "heuristics" {
		t.Errorf("Events = %v", resp.Events)
	}
}

func TestGetLog_IncludesResolution(t *testing.T) {
	h, _, store, _ := setupHandler(testToken)
	store.logs["log-1"] = storage.TriageLog{ID: "log-1", Classification: "medical"}
	correct := true
	store.resolution = &storage.ResolutionFeedback{
		TriageLogID:       "log-1",
		ActualCategory:    "medical",
		PredictedCategory: "medical",
		WasCorrect:        &correct,
		ResolvedAt:        time.Now().UTC(),
	}

	rr := doReq(h, http.MethodGet, "/v1/triage/logs/log-1", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Resolution *ResolutionView `json:"resolution"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Resolution == nil {
		t.Fatal("resolution missing from response")
	}
	if resp.Resolution.ActualCategory != "medical" || resp.Resolution.WasCorrect == nil || !*resp.Resolution.WasCorrect {
		t.Errorf("resolution = %+v", resp.Resolution)
	}
}

func TestRecentErrors(t *testing.T) {
	h, _, store, _ := setupHandler(testToken)
	store.appErrors = []storage.AppError{
		{ID: "err-1", Route: "triage/classify", Message: "llm classification failed", Detail: `{"error":"boom"}`, Level: "error"},
	}

	rr := doReq(h, http.MethodGet, "/v1/errors", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Errors []AppErrorView `json:"errors"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Route != "triage/classify" {
		t.Errorf("errors = %+v", resp.Errors)
	}
}

func TestWeeklyMetrics_ComputesWhenNoneStored(t *testing.T) {
	h, _, _, m := setupHandler(testToken)

	rr := doReq(h, http.MethodGet, "/v1/metrics/weekly", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(m.computed) != 1 {
		t.Fatalf("computed = %v, want one on-demand aggregation", m.computed)
	}
}

func TestWeeklyMetrics_ExplicitWeek(t *testing.T) {
	h, _, _, m := setupHandler(testToken)

	rr := doReq(h, http.MethodGet, "/v1/metrics/weekly?week=2026-08-26", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	want := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if len(m.computed) != 1 || !m.computed[0].Equal(want) {
		t.Errorf("computed = %v, want [%v]", m.computed, want)
	}
}

func TestHourlyMetrics(t *testing.T) {
	h, _, _, _ := setupHandler(testToken)

	rr := doReq(h, http.MethodGet, "/v1/metrics/hourly?hours=6", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Hours []metrics.HourlyPoint `json:"hours"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Hours) != 6 {
		t.Errorf("hours = %d, want 6", len(resp.Hours))
	}
}

func TestHealth(t *testing.T) {
	h, _, _, _ := setupHandler("")

	rr := doReq(h, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
