package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxBodyBytes        = 1 << 20
	problemTypeInternal = "https://dapp.bot/problems/internal-error"
	problemTypeBadInput = "https://dapp.bot/problems/invalid-request"
	problemContentType  = "application/problem+json"
	responseContentType = "application/json"
)

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type cleanupResponse struct {
	Candidates int      `json:"candidates"`
	Failed     []string `json:"failed"`
	Recovered  []string `json:"recovered"`
	Skipped    []string `json:"skipped"`
	Errored    int      `json:"errored"`
	GCEligible int      `json:"gcEligible"`
	GCDeleted  []string `json:"gcDeleted"`
	GCFailed   int      `json:"gcFailed"`
}

// Routes mounts the trigger endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/pipeline-job", h.servePipelineJob)
	r.Post("/message", h.serveMessage)
	r.Post("/cleanup", h.serveCleanup)
}

func (h *Handler) servePipelineJob(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	outcome, err := h.PipelineJob(r.Context(), body)
	if err != nil {
		h.writeProblem(w, r, http.StatusInternalServerError, "Pipeline report failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"result": string(outcome)})
}

func (h *Handler) serveMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.Message(r.Context(), body); err != nil {
		h.writeProblem(w, r, http.StatusInternalServerError, "Message handling failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) serveCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Cleanup(r.Context())
	if err != nil {
		h.writeProblem(w, r, http.StatusInternalServerError, "Cleanup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, cleanupResponse{
		Candidates: res.Reconcile.Candidates,
		Failed:     nonNil(res.Reconcile.Failed),
		Recovered:  nonNil(res.Reconcile.Recovered),
		Skipped:    nonNil(res.Reconcile.Skipped),
		Errored:    len(res.Reconcile.Errors),
		GCEligible: len(res.GC.Eligible),
		GCDeleted:  nonNil(res.GC.Deleted),
		GCFailed:   len(res.GC.Failed),
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, "Unreadable request body", err)
		return nil, false
	}
	return body, true
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, title string, err error) {
	problemType := problemTypeInternal
	logger := h.loggerFrom(r.Context())
	if status < http.StatusInternalServerError {
		problemType = problemTypeBadInput
		logger.Warn("trigger rejected", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Error("trigger failed", zap.Int("status", status), zap.Error(err))
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetails{Type: problemType, Title: title, Status: status, Detail: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", responseContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
