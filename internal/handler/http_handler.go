package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/pkg/auth"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
	"github.com/pesio-ai/be-procurement-letters/pkg/middleware"
)

const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	letters *service.LetterService
	rules   *service.RuleService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(letters *service.LetterService, rules *service.RuleService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		letters: letters,
		rules:   rules,
		log:     log,
	}
}

// Routes builds the router. Everything under /api/v1 passes through authn;
// /health does not.
func (h *HTTPHandler) Routes(authn func(http.Handler) http.Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(&h.log.Logger))
	r.Use(middleware.Logger(&h.log.Logger))
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authn)

		api.Route("/letters", func(lr chi.Router) {
			lr.Post("/", h.CreateLetter)
			lr.Get("/inbox", h.ListInbox)
			lr.Get("/activity", h.ListActivity)
			lr.Put("/{id}", h.ResubmitLetter)
			lr.Post("/{id}/decision", h.DecideLetter)
			lr.Get("/{id}/progress", h.GetProgress)
		})

		api.Route("/rules", func(rr chi.Router) {
			rr.Get("/", h.ListRules)
			rr.Post("/", h.CreateRule)
			rr.Get("/coverage", h.CheckCoverage)
			rr.Get("/{id}", h.GetRule)
			rr.Put("/{id}", h.UpdateRule)
			rr.Delete("/{id}", h.DeleteRule)
			rr.Put("/{id}/steps", h.ReplaceSteps)
		})
	})

	return r
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Letters ──────────────────────────────────────────────────────────────────

// CreateLetter handles create letter HTTP requests
func (h *HTTPHandler) CreateLetter(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body letterRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	req, err := body.toCreate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	letter, err := h.letters.CreateLetter(r.Context(), actor, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toLetterView(letter))
}

// DecideLetter records the current approver's decision.
func (h *HTTPHandler) DecideLetter(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body decisionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	letter, err := h.letters.Decide(r.Context(), letterID(r), actor, toDecision(body.Decision), body.Comment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toLetterView(letter))
}

// ResubmitLetter updates a letter awaiting revision and restarts its chain.
func (h *HTTPHandler) ResubmitLetter(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body letterRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	req, err := body.toResubmit()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	letter, err := h.letters.Resubmit(r.Context(), letterID(r), actor, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toLetterView(letter))
}

// GetProgress returns a letter with its history and chain states.
func (h *HTTPHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}

	progress, err := h.letters.GetProgress(r.Context(), letterID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toProgressView(progress))
}

// ListInbox lists letters waiting on the caller.
func (h *HTTPHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	page, pageSize, err := pagination(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.letters.ListInbox(r.Context(), actor, r.URL.Query().Get("search"), page, pageSize)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, pageView{
		Items:    toLetterViews(result.Letters),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// ListActivity lists the caller's own log entries.
func (h *HTTPHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	page, pageSize, err := pagination(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.letters.ListActivity(r.Context(), actor, page, pageSize)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, pageView{
		Items:    toLogViews(result.Entries),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// ── Rules ────────────────────────────────────────────────────────────────────

// ListRules handles list rules HTTP requests
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pagination(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.rules.ListRules(r.Context(), r.URL.Query().Get("search"), page, pageSize)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]ruleView, 0, len(result.Rules))
	for _, rule := range result.Rules {
		items = append(items, toRuleView(rule))
	}
	h.respond(w, http.StatusOK, pageView{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// CreateRule handles create rule HTTP requests
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	req, err := body.toCreate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, toRuleView(rule))
}

// GetRule handles get rule HTTP requests
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.GetRule(r.Context(), ruleID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toRuleView(rule))
}

// UpdateRule changes a rule's name and amount range.
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}
	req, err := body.toUpdate()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), ruleID(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toRuleView(rule))
}

// ReplaceSteps swaps a rule's whole chain.
func (h *HTTPHandler) ReplaceSteps(w http.ResponseWriter, r *http.Request) {
	var body stepsRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	rule, err := h.rules.ReplaceSteps(r.Context(), ruleID(r), toStepInputs(body.Steps))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toRuleView(rule))
}

// DeleteRule handles delete rule HTTP requests
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteRule(r.Context(), ruleID(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckCoverage reports gaps and overlaps in the rule set.
func (h *HTTPHandler) CheckCoverage(w http.ResponseWriter, r *http.Request) {
	report, err := h.rules.CheckCoverage(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toCoverageView(report))
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (repository.Actor, bool) {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return repository.Actor{}, false
	}
	return actorFrom(uc), true
}

func letterID(r *http.Request) repository.LetterID {
	return repository.LetterID(chi.URLParam(r, "id"))
}

func ruleID(r *http.Request) repository.RuleID {
	return repository.RuleID(chi.URLParam(r, "id"))
}

func pagination(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := queryInt(q.Get("page_size"), "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.InvalidInput(field, "must be an integer")
	}
	return v, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidInput("body", "invalid request body")
	}
	return nil
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Field   string           `json:"field,omitempty"`
	Details map[string]any   `json:"details,omitempty"`
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: errors.CodeOf(err), Message: "internal error"}

	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Code != errors.ErrCodeInternal {
		body.Message = appErr.Message
		body.Field = appErr.Field
		body.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("code", string(body.Code)).
			Msg("Request failed")
	}
	h.respond(w, status, map[string]errorBody{"error": body})
}

func (h *HTTPHandler) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}
