// Package api exposes the compliance pipeline over HTTP.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/audit"
	"github.com/agentfacts/expense-compliance/internal/compliance"
	"github.com/agentfacts/expense-compliance/internal/dataset"
	"github.com/agentfacts/expense-compliance/internal/observability"
	"github.com/agentfacts/expense-compliance/internal/policy"
	"github.com/agentfacts/expense-compliance/internal/policy/compiler"
	"github.com/agentfacts/expense-compliance/internal/workspace"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 32 << 20

// Deps are the components the handlers operate on. Audit and metrics
// components are optional.
type Deps struct {
	Engine     *compliance.Engine
	Workspaces *workspace.Manager
	Compiler   *compiler.Compiler

	AuditStore  *audit.Store
	AuditWriter *audit.Writer
	Metrics     *observability.Metrics

	// CrossCheck re-evaluates every scoring run with the compiled Rego module.
	CrossCheck   bool
	MaxBodyBytes int64
}

// Handler serves the API routes.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Compiler == nil {
		deps.Compiler = compiler.NewCompiler()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{deps: deps}
}

// register adds every route to mux.
func (h *Handler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/policy/normalize", h.handleNormalize)
	mux.HandleFunc("POST /v1/policy/parse-text", h.handleParseText)
	mux.HandleFunc("POST /v1/policy/validate", h.handleValidate)
	mux.HandleFunc("POST /v1/policy/align", h.handleAlign)
	mux.HandleFunc("POST /v1/policy/annotate", h.handleAnnotate)
	mux.HandleFunc("POST /v1/policy/rego", h.handleRego)

	mux.HandleFunc("GET /v1/workspaces", h.handleListWorkspaces)
	mux.HandleFunc("POST /v1/workspaces", h.handleCreateWorkspace)
	mux.HandleFunc("GET /v1/workspaces/{id}", h.handleGetWorkspace)
	mux.HandleFunc("DELETE /v1/workspaces/{id}", h.handleDeleteWorkspace)
	mux.HandleFunc("PUT /v1/workspaces/{id}/document", h.handleReplaceDocument)

	mux.HandleFunc("POST /v1/score", h.handleScore)
	mux.HandleFunc("GET /v1/runs/{id}/verdicts", h.handleRunVerdicts)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
}

// handleNormalize accepts any parser response and returns the canonical
// document. Unrecognizable input is echoed back with a 422.
func (h *Handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	doc, shape, err := policy.NormalizeShape(body)
	if err != nil {
		h.recordNormalization("failed")
		raw := string(body)
		var nerr *policy.NormalizationError
		if errors.As(err, &nerr) {
			raw = string(nerr.Raw)
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Raw: &raw})
		return
	}
	h.recordNormalization(string(shape))

	w.Header().Set("X-Policy-Shape", string(shape))
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleParseText(w http.ResponseWriter, r *http.Request) {
	var req parseTextRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, policy.ParseText(req.Text))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	doc, err := policy.ValidateEdited(body)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleAlign(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Document == nil {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	writeJSON(w, http.StatusOK, policy.Align(req.Document, req.Categories))
}

func (h *Handler) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Document == nil {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	writeJSON(w, http.StatusOK, policy.Annotate(req.Document, policy.Vocabulary{
		Fields: req.Fields,
		Values: req.Values,
	}))
}

func (h *Handler) handleRego(w http.ResponseWriter, r *http.Request) {
	var doc policy.RuleDocument
	if !h.decode(w, r, &doc) {
		return
	}
	result, err := h.deps.Compiler.Compile(&doc)
	if err != nil {
		log.Error().Err(err).Msg("Rego compilation failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, regoResponse{
		ModuleName: result.ModuleName,
		Module:     result.Module,
		Labels:     result.Labels,
		Warnings:   nonNil(result.Warnings),
	})
}

func (h *Handler) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	resp := listWorkspacesResponse{Workspaces: []workspaceSummary{}}
	for _, s := range h.deps.Workspaces.List() {
		resp.Workspaces = append(resp.Workspaces, workspaceSummary{
			ID:       s.ID,
			Revision: s.Revision,
			Rules:    len(s.Document.Rules),
			Source:   s.Document.Source,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if !h.decode(w, r, &req) {
		return
	}

	var doc *policy.RuleDocument
	if len(req.Document) > 0 && string(req.Document) != "null" {
		var err error
		if doc, err = policy.ValidateEdited(req.Document); err != nil {
			writeValidationError(w, err)
			return
		}
	}

	ws, err := h.deps.Workspaces.Create(r.Context(), doc, req.Categories)
	if err != nil {
		if errors.Is(err, workspace.ErrMaxWorkspacesReached) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create workspace")
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordWorkspaceCreated(h.deps.Workspaces.ActiveCount())
	}

	writeJSON(w, http.StatusCreated, ws.Snapshot())
}

func (h *Handler) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Snapshot())
}

func (h *Handler) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.workspace(w, id); !ok {
		return
	}
	h.deps.Workspaces.Delete(id)
	if h.deps.Metrics != nil {
		h.deps.Metrics.SetActiveWorkspaces(h.deps.Workspaces.ActiveCount())
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReplaceDocument swaps in a hand-edited document. A rejected document
// leaves the previous one active.
func (h *Handler) handleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	if _, err := h.deps.Workspaces.Replace(id, body); err != nil {
		if errors.Is(err, workspace.ErrWorkspaceNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeValidationError(w, err)
		return
	}

	ws, ok := h.workspace(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Snapshot())
}

// handleScore runs the pipeline: synthesis, alignment to the dataset
// categories, evaluation, then audit and optional Rego cross-check.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, "transactions are required")
		return
	}
	txns, err := dataset.ReadJSONArray(bytes.NewReader(req.Transactions))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		doc        *policy.RuleDocument
		categories = req.Categories
	)
	switch {
	case req.WorkspaceID != "":
		ws, ok := h.workspace(w, req.WorkspaceID)
		if !ok {
			return
		}
		doc = ws.Document()
		if len(categories) == 0 {
			categories = ws.Categories()
		}
		if len(categories) == 0 {
			categories = dataset.Categories(txns)
			ws.SetCategories(categories)
		}
	case len(req.Document) > 0 && string(req.Document) != "null":
		doc, err = policy.NormalizeJSON(req.Document)
		if err != nil {
			raw := string(req.Document)
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Raw: &raw})
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "document or workspace_id is required")
		return
	}
	if len(categories) == 0 {
		categories = dataset.Categories(txns)
	}

	prepared := policy.Prepare(doc, categories)
	result, err := h.deps.Engine.Apply(r.Context(), prepared, txns)
	if err != nil {
		log.Warn().Err(err).Int("transactions", len(txns)).Msg("Scoring run aborted")
		writeError(w, http.StatusServiceUnavailable, "scoring run cancelled")
		return
	}

	if h.deps.AuditWriter != nil {
		h.deps.AuditWriter.WriteRun(result.RunID, req.WorkspaceID, prepared, result.Scored)
	}

	resp := scoreResponse{
		RunID:        result.RunID,
		WorkspaceID:  req.WorkspaceID,
		Summary:      newScoreSummary(result.Summary),
		Transactions: result.Scored,
	}

	if h.deps.CrossCheck {
		report, err := h.deps.Compiler.CrossCheck(r.Context(), prepared, result.Scored)
		if err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("Rego cross-check failed")
		} else {
			resp.CrossCheck = report
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRunVerdicts lists the logged verdicts of one run. Supports the
// compliant, limit and offset query parameters.
func (h *Handler) handleRunVerdicts(w http.ResponseWriter, r *http.Request) {
	if h.deps.AuditStore == nil {
		writeError(w, http.StatusNotFound, "audit trail is disabled")
		return
	}
	runID := r.PathValue("id")

	opts := audit.QueryOptions{RunID: runID}
	q := r.URL.Query()
	if v := q.Get("compliant"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid compliant value %q", v))
			return
		}
		opts.Compliant = &b
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s value %q", name, v))
				return
			}
			*dst = n
		}
	}

	// Pending verdicts of a just-finished run are still buffered.
	if h.deps.AuditWriter != nil {
		h.deps.AuditWriter.Flush()
	}

	records, err := h.deps.AuditStore.Query(r.Context(), opts)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to query verdicts")
		writeError(w, http.StatusInternalServerError, "failed to query verdicts")
		return
	}
	if len(records) == 0 && opts.Offset == 0 && opts.Compliant == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runID))
		return
	}
	counts, err := h.deps.AuditStore.RuleCounts(r.Context(), runID)
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to count rule violations")
		writeError(w, http.StatusInternalServerError, "failed to query verdicts")
		return
	}

	if records == nil {
		records = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, runVerdictsResponse{RunID: runID, Verdicts: records, RuleCounts: counts})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Engine: h.deps.Engine.Stats(),
		Workspaces: workspaceStats{
			Active:  h.deps.Workspaces.ActiveCount(),
			Created: h.deps.Workspaces.TotalCreated(),
		},
	}
	if h.deps.AuditStore != nil {
		stats, err := h.deps.AuditStore.GetStats(r.Context(), nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read audit stats")
		} else {
			resp.Audit = stats
		}
	}
	if h.deps.AuditWriter != nil {
		ws := h.deps.AuditWriter.Stats()
		resp.Writer = &ws
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) workspace(w http.ResponseWriter, id string) (*workspace.Workspace, bool) {
	ws, err := h.deps.Workspaces.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return ws, true
}

func (h *Handler) recordNormalization(shape string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordNormalization(shape)
	}
}

// readBody reads the request body up to the configured limit.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// decode reads the body and unmarshals it into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *policy.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Reason)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

