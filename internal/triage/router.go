package triage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/carlsuburbmates/dogtriage/internal/llm"
	"github.com/carlsuburbmates/dogtriage/internal/storage"
)

// Request is one incoming emergency report.
type Request struct {
	Text    string
	Suburb  string
	Contact string
	Tags    []string
	Meta    map[string]string
}

// Decision is the outcome of routing a request: the classification, the
// medical assessment, which analysis path produced them, timing and token
// accounting, and the id of the audit record written for this request.
type Decision struct {
	Result     Result            `json:"result"`
	Medical    MedicalAssessment `json:"medical"`
	Source     Source            `json:"decision_source"`
	Mode       Mode              `json:"mode"`
	LogID      string            `json:"log_id"`
	DurationMs int64             `json:"duration_ms"`
	TokenUsage *llm.Usage        `json:"token_usage,omitempty"`
}

// LogStore is the subset of the storage layer the router persists to.
type LogStore interface {
	SaveTriageLog(storage.TriageLog) error
	SaveTriageEvent(storage.TriageEvent) error
}

// ErrorReporter records internal failures without ever failing itself. It
// returns an id the audit record can reference.
type ErrorReporter interface {
	Report(ctx context.Context, route, message string, err error) string
}

// Router dispatches each request to the LLM analyzers or the deterministic
// rules depending on the active mode, reconciles the two assessments, and
// persists an audit record. Persistence happens off the request path; a
// storage failure never fails the triage response.
type Router struct {
	classifier *Classifier
	medical    *MedicalAnalyzer
	store      LogStore
	errors     ErrorReporter
	mode       func() Mode
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewRouter builds a router. The mode function is consulted per request so
// operators can flip modes without a restart. classifier and medical may be
// nil only when mode never reports live or shadow.
func NewRouter(classifier *Classifier, medical *MedicalAnalyzer, store LogStore, errors ErrorReporter, mode func() Mode, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		classifier: classifier,
		medical:    medical,
		store:      store,
		errors:     errors,
		mode:       mode,
		logger:     logger,
	}
}

// analysis holds what one pass over the analyzers produced.
type analysis struct {
	result  Result
	medical MedicalAssessment
	source  Source
	events  []storage.TriageEvent
	usage   llm.Usage
	errorID string
}

// Triage classifies a request and schedules its audit record. It returns
// ErrEmptyInput when the message is blank; analyzer failures never surface
// to the caller because the deterministic rules stand in.
func (r *Router) Triage(ctx context.Context, req Request) (Decision, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Decision{}, ErrEmptyInput
	}

	start := time.Now()
	logID := uuid.NewString()
	mode := r.mode()

	var a analysis
	switch mode {
	case ModeLive:
		a = r.analyzeLLM(ctx, req.Text)
	case ModeShadow:
		// Exercise the LLM pair for the audit trail, then discard it in
		// favor of the deterministic answer.
		shadow := r.analyzeLLM(ctx, req.Text)
		a = r.analyzeRules(req.Text)
		a.events = append(shadow.events, a.events...)
		a.usage = shadow.usage
		a.errorID = shadow.errorID
	default:
		a = r.analyzeRules(req.Text)
	}

	a.result, a.events = reconcileUrgency(a.result, a.medical, a.events)

	d := Decision{
		Result:     a.result,
		Medical:    a.medical,
		Source:     a.source,
		Mode:       mode,
		LogID:      logID,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if a.usage.TotalTokens > 0 {
		usage := a.usage
		d.TokenUsage = &usage
	}

	r.persistAsync(req, d, a)
	return d, nil
}

// analyzeLLM runs the classifier and the medical analyzer in parallel. Each
// call falls back to its deterministic counterpart independently; the
// decision counts as an LLM decision only when both calls succeeded.
func (r *Router) analyzeLLM(ctx context.Context, text string) analysis {
	var (
		res        Result
		med        MedicalAssessment
		resUsage   llm.Usage
		medUsage   llm.Usage
		resErr     error
		medErr     error
		resElapsed time.Duration
		medElapsed time.Duration
	)

	// Plain group, not WithContext: one analyzer failing must not cancel
	// the other.
	var g errgroup.Group
	g.Go(func() error {
		t := time.Now()
		res, resUsage, resErr = r.classifier.Classify(ctx, text)
		resElapsed = time.Since(t)
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		med, medUsage, medErr = r.medical.Assess(ctx, text)
		medElapsed = time.Since(t)
		return nil
	})
	g.Wait()

	a := analysis{source: SourceLLM}
	a.events = append(a.events, llmEvent("classify", resUsage, resElapsed, resErr))
	a.events = append(a.events, llmEvent("assess_medical", medUsage, medElapsed, medErr))
	a.usage = llm.Usage{
		PromptTokens:     resUsage.PromptTokens + medUsage.PromptTokens,
		CompletionTokens: resUsage.CompletionTokens + medUsage.CompletionTokens,
		TotalTokens:      resUsage.TotalTokens + medUsage.TotalTokens,
	}

	if resErr != nil {
		r.logger.Warn("classification fell back to rules", "error", resErr)
		a.errorID = r.report(ctx, "triage/classify", "llm classification failed", resErr)
		res = Rules{}.Classify(text)
		a.source = SourceDeterministic
		a.events = append(a.events, heuristicsEvent("classify"))
	}
	if medErr != nil {
		r.logger.Warn("medical assessment fell back to rules", "error", medErr)
		if id := r.report(ctx, "triage/medical", "llm medical assessment failed", medErr); a.errorID == "" {
			a.errorID = id
		}
		med = MedicalRules{}.Assess(text)
		a.source = SourceDeterministic
		a.events = append(a.events, heuristicsEvent("assess_medical"))
	}

	a.result = res
	a.medical = med
	return a
}

func (r *Router) analyzeRules(text string) analysis {
	t := time.Now()
	res := Rules{}.Classify(text)
	med := MedicalRules{}.Assess(text)
	return analysis{
		result:  res,
		medical: med,
		source:  SourceDeterministic,
		events: []storage.TriageEvent{{
			Stage:      "heuristics",
			Payload:    mustJSON(map[string]any{"ops": []string{"classify", "assess_medical"}}),
			DurationMs: time.Since(t).Milliseconds(),
		}},
	}
}

func (r *Router) report(ctx context.Context, route, message string, err error) string {
	if r.errors == nil {
		return ""
	}
	return r.errors.Report(ctx, route, message, err)
}

// reconcileUrgency raises the classification urgency when the medical
// assessment is more severe than the classifier thought. It never lowers
// urgency. A postprocess event records any adjustment.
func reconcileUrgency(res Result, med MedicalAssessment, events []storage.TriageEvent) (Result, []storage.TriageEvent) {
	if !med.IsMedical {
		return res, events
	}

	floor := res.Urgency
	switch med.Severity {
	case SeverityLifeThreatening:
		floor = UrgencyImmediate
	case SeveritySerious:
		if urgencyRank(res.Urgency) < urgencyRank(UrgencyUrgent) {
			floor = UrgencyUrgent
		}
	}
	if floor == res.Urgency {
		return res, events
	}

	events = append(events, storage.TriageEvent{
		Stage: "postprocess",
		Payload: mustJSON(map[string]any{
			"op":       "urgency_reconciliation",
			"from":     res.Urgency,
			"to":       floor,
			"severity": med.Severity,
		}),
	})
	res.Urgency = floor
	return res, events
}

// persistAsync writes the audit record and its sub-events on a background
// goroutine with a detached context, so a slow or failing database never
// delays the caller.
func (r *Router) persistAsync(req Request, d Decision, a analysis) {
	if r.store == nil {
		return
	}

	meta := req.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	log := storage.TriageLog{
		ID:                d.LogID,
		CreatedAt:         time.Now().UTC(),
		Message:           req.Text,
		Suburb:            req.Suburb,
		Contact:           req.Contact,
		Classification:    string(d.Result.Classification),
		Confidence:        d.Result.Confidence,
		Summary:           d.Result.Summary,
		RecommendedAction: string(d.Result.RecommendedAction),
		Urgency:           string(d.Result.Urgency),
		Medical:           mustJSON(d.Medical),
		DecisionSource:    string(d.Source),
		DurationMs:        d.DurationMs,
		RequestMeta:       mustJSON(meta),
		Tags:              mustJSON(tags),
		ErrorID:           a.errorID,
	}
	if a.usage.TotalTokens > 0 {
		log.TokensPrompt = &a.usage.PromptTokens
		log.TokensCompletion = &a.usage.CompletionTokens
		log.TokensTotal = &a.usage.TotalTokens
	}
	events := a.events

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := context.Background()

		t := time.Now()
		if err := r.store.SaveTriageLog(log); err != nil {
			r.logger.Error("persisting triage log", "log_id", log.ID, "error", err)
			r.report(ctx, "triage/persist", "saving triage log", err)
			return
		}
		for _, e := range events {
			e.TriageLogID = log.ID
			if err := r.store.SaveTriageEvent(e); err != nil {
				r.logger.Error("persisting triage event", "log_id", log.ID, "stage", e.Stage, "error", err)
				r.report(ctx, "triage/persist", "saving triage event", err)
			}
		}
		persist := storage.TriageEvent{
			TriageLogID: log.ID,
			Stage:       "persist",
			DurationMs:  time.Since(t).Milliseconds(),
		}
		if err := r.store.SaveTriageEvent(persist); err != nil {
			r.logger.Error("persisting triage event", "log_id", log.ID, "stage", "persist", "error", err)
		}
	}()
}

// Drain blocks until all in-flight audit writes have finished. Call during
// shutdown.
func (r *Router) Drain() {
	r.wg.Wait()
}

func llmEvent(op string, usage llm.Usage, elapsed time.Duration, err error) storage.TriageEvent {
	payload := map[string]any{"op": op, "tokens": usage.TotalTokens}
	if err != nil {
		payload["error"] = err.Error()
	}
	return storage.TriageEvent{
		Stage:      "llm_call",
		Payload:    mustJSON(payload),
		DurationMs: elapsed.Milliseconds(),
	}
}

func heuristicsEvent(op string) storage.TriageEvent {
	return storage.TriageEvent{
		Stage:   "heuristics",
		Payload: mustJSON(map[string]any{"op": op, "reason": "llm_fallback"}),
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
