package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/lifecycle"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	manager *lifecycle.Manager
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, manager *lifecycle.Manager, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		manager: manager,
		version: version,
	}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	DecisionID     string         `json:"decisionId"`
	ApplicationID  string         `json:"applicationId"`
	Outcome        domain.Outcome `json:"outcome"`
	Score          int            `json:"score"`
	Reasons        []string       `json:"reasons"`
	MatchedRuleIDs []string       `json:"matchedRuleIds"`
	Metadata       struct {
		TraceID       string `json:"traceId"`
		RulesInEffect int    `json:"rulesInEffect"`
		TotalMs       int64  `json:"totalMs"`
		Version       string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /evaluate: synchronous decisioning of an
// inline application against the active rule snapshot.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if msg := validateApplicationRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	app := req.ToApplication(uuid.New().String())

	if err := h.repo.SaveApplication(ctx, app); err != nil {
		slog.Error("failed to save application", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save application",
		})
		return
	}

	// Snapshot acquisition happens once, here; the evaluator never
	// re-reads rules mid-flight.
	snapshot, err := h.manager.ActiveSnapshot(ctx)
	if err != nil {
		var cfgErr *engine.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("rule store inconsistent", "error", cfgErr)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": cfgErr.Error(),
			})
			return
		}
		slog.Error("failed to load rule snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule snapshot",
		})
		return
	}

	result := engine.Evaluate(snapshot, engine.NewContext(app))

	decision := domain.NewDecision(uuid.New().String(), app.ID, result, snapshot.VersionIDs)
	decision.TraceID = traceID
	decision.ProcessMs = time.Since(start).Milliseconds()

	if err := h.repo.SaveDecision(ctx, decision); err != nil {
		slog.Error("failed to save decision", "error", err, "application_id", app.ID)
	}

	if h.bus != nil {
		if payload, err := json.Marshal(decision); err == nil {
			if err := h.bus.Publish(ctx, domain.TopicDecisionRecorded, payload); err != nil {
				slog.Warn("failed to publish decision", "error", err)
			}
		}
	}

	resp := EvaluateResponse{
		DecisionID:     decision.ID,
		ApplicationID:  app.ID,
		Outcome:        result.Outcome,
		Score:          result.Score,
		Reasons:        result.Reasons,
		MatchedRuleIDs: result.MatchedRuleIDs,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.RulesInEffect = len(snapshot.Rules)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// SubmitApplication handles POST /applications: stores the
// application and hands it to the async pipeline.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if msg := validateApplicationRequest(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	app := req.ToApplication(uuid.New().String())

	if err := h.repo.SaveApplication(ctx, app); err != nil {
		slog.Error("failed to save application", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save application",
		})
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"applicationId": app.ID,
		"traceId":       GetTraceID(ctx),
	})
	if err := h.bus.Publish(ctx, domain.TopicApplicationSubmitted, payload); err != nil {
		slog.Error("failed to publish application", "error", err, "application_id", app.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue application",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"applicationId": app.ID,
		"status":        "submitted",
	})
}

// GetApplication retrieves an application by ID.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "id")

	app, err := h.repo.GetApplication(r.Context(), appID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "application not found"})
		return
	}
	if err != nil {
		slog.Error("failed to get application", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get application"})
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "id")

	d, err := h.repo.GetDecision(r.Context(), decisionID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision not found"})
		return
	}
	if err != nil {
		slog.Error("failed to get decision", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get decision"})
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// ListApplicationDecisions retrieves the decisions recorded for one
// application, newest first.
func (h *Handler) ListApplicationDecisions(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "id")

	decisions, err := h.repo.ListDecisionsByApplication(r.Context(), appID)
	if err != nil {
		slog.Error("failed to list decisions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list decisions"})
		return
	}
	if decisions == nil {
		decisions = []*domain.Decision{}
	}

	writeJSON(w, http.StatusOK, decisions)
}

// ValidateRule handles POST /rules/validate: a dry-run compile that
// persists nothing and always returns the full report.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	report := engine.ValidateDefinition(body)
	writeJSON(w, http.StatusOK, report)
}

// RuleWriteRequest is the request body for rule create/version calls.
type RuleWriteRequest struct {
	Definition   json.RawMessage `json:"definition"`
	ChangeReason string          `json:"changeReason,omitempty"`
}

// CreateRule handles POST /rules: version 1 of a new logical rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RuleWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Definition) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be {\"definition\": {...}}",
		})
		return
	}

	v, report, err := h.manager.CreateRule(ctx, req.Definition, GetActor(ctx))
	if errors.Is(err, lifecycle.ErrInvalidDefinition) {
		writeJSON(w, http.StatusUnprocessableEntity, report)
		return
	}
	if err != nil {
		slog.Error("failed to create rule", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create rule"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":     v,
		"warnings": report.Warnings,
	})
}

// CreateRuleVersion handles POST /rules/{id}/versions, where id is
// the logical rule ID. It appends a new version and deactivates the
// previous one atomically.
func (h *Handler) CreateRuleVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logicalID := chi.URLParam(r, "id")

	var req RuleWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Definition) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request body must be {\"definition\": {...}, \"changeReason\": \"...\"}",
		})
		return
	}

	v, report, err := h.manager.CreateVersion(ctx, logicalID, req.Definition, req.ChangeReason, GetActor(ctx))
	if errors.Is(err, lifecycle.ErrInvalidDefinition) {
		writeJSON(w, http.StatusUnprocessableEntity, report)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "logical rule not found"})
		return
	}
	if err != nil {
		slog.Error("failed to create rule version", "error", err, "logical_id", logicalID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create rule version"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":     v,
		"warnings": report.Warnings,
	})
}

// ActivateRule handles POST /rules/{id}/activate.
func (h *Handler) ActivateRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleActive(w, r, true)
}

// DeactivateRule handles POST /rules/{id}/deactivate.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleActive(w, r, false)
}

func (h *Handler) setRuleActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")

	err := h.manager.SetActive(r.Context(), id, active)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule version not found"})
		return
	}
	if err != nil {
		slog.Error("failed to toggle rule", "error", err, "rule_id", id, "active", active)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update rule"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

// ListRules handles GET /rules: every stored version.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	versions, err := h.repo.ListAllRuleVersions(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rules"})
		return
	}
	if versions == nil {
		versions = []*domain.RuleVersion{}
	}

	writeJSON(w, http.StatusOK, versions)
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	v, err := h.repo.GetRuleVersion(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule version not found"})
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get rule"})
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// ListRuleVersions handles GET /rules/{id}/versions, where id is the
// logical rule ID. It returns the full history, oldest first.
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	logicalID := chi.URLParam(r, "id")

	versions, err := h.repo.ListRuleVersions(r.Context(), logicalID)
	if err != nil {
		slog.Error("failed to list rule versions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rule versions"})
		return
	}
	if len(versions) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "logical rule not found"})
		return
	}

	writeJSON(w, http.StatusOK, versions)
}

// ReloadRules handles POST /rules/reload: drops the cached snapshot
// source and recompiles from the store.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if err := h.cache.Delete(ctx, domain.CacheKeyActiveRules); err != nil {
			slog.Warn("failed to invalidate rule cache", "error", err)
		}
	}

	snapshot, err := h.manager.ActiveSnapshot(ctx)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":      true,
		"rulesInEffect": len(snapshot.Rules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func validateApplicationRequest(req *domain.ApplicationRequest) string {
	if req.Amount <= 0 {
		return "amount must be positive"
	}
	if req.TermMonths <= 0 {
		return "termMonths must be positive"
	}
	if req.ProductType == "" {
		return "productType is required"
	}
	if req.ApplicantAge <= 0 {
		return "applicantAge must be positive"
	}
	return ""
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
