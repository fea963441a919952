package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/checksum"
	"github.com/starford/surveybox/internal/ingest"
	"github.com/starford/surveybox/internal/metrics"
	"github.com/starford/surveybox/internal/models"
)

const maxWebhookBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *Service
	now func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// Webhook handles POST /webhook.
//
//	@Summary		Ingest one survey response
//	@Tags			webhook
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	WebhookResponse
//	@Failure		400	{object}	errResponse
//	@Failure		403	{object}	errResponse
//	@Failure		500	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Router			/webhook [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(OutcomeInvalid).Inc()
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var sub models.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(OutcomeInvalid).Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.svc.Authorized(sub.SharedSecret) {
		metrics.SubmissionsTotal.WithLabelValues(OutcomeRejected).Inc()
		slog.Warn("webhook rejected: bad shared secret", slog.String("remote", r.RemoteAddr))
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := sub.Validate(); err != nil {
		metrics.SubmissionsTotal.WithLabelValues(OutcomeInvalid).Inc()
		slog.Warn("webhook rejected: invalid submission",
			slog.String("source", sub.Source),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid submission")
		return
	}

	// A client disconnect must not abandon a half-written master file.
	ctx := context.WithoutCancel(r.Context())
	res, err := h.svc.Submit(ctx, sub, checksum.Payload(body))
	status := statusFor(res, err)
	switch {
	case errors.Is(err, apperr.ErrAuth):
		slog.Error("webhook: storage authentication failed", slog.String("error", err.Error()))
		writeError(w, status, "storage authentication failed")
	case err != nil:
		slog.Error("webhook: ingest failed", slog.String("error", err.Error()))
		writeError(w, status, "internal error")
	case status == http.StatusServiceUnavailable:
		writeError(w, status, "storage backend unreachable")
	case status != http.StatusOK:
		writeError(w, status, "upload failed")
	default:
		writeJSON(w, status, WebhookResponse{
			Status:     "success",
			Succeeded:  res.Succeeded,
			FolderID:   res.FolderID,
			Individual: res.Individual,
			Master:     res.Master,
		})
	}
}

// Health handles GET /health.
//
//	@Summary		Liveness probe
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// ListSubmissions handles GET /api/submissions.
//
//	@Summary		Recently processed submissions
//	@Tags			submissions
//	@Produce		json
//	@Param			limit	query		int		false	"Max entries"
//	@Param			source	query		string	false	"Filter by source"
//	@Success		200		{object}	SubmissionListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/api/submissions [get]
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.svc.Recent(r.Context(), limit, q.Get("source"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "journal disabled")
			return
		}
		slog.Error("list submissions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SubmissionListResponse{Submissions: entries})
}

// statusFor maps a finished submission to its HTTP status. Backend
// authentication failures and submissions where nothing succeeded are 500,
// unless nothing succeeded because the backend was unreachable.
func statusFor(res *ingest.Result, err error) int {
	switch {
	case err != nil:
		return http.StatusInternalServerError
	case res.OK():
		return http.StatusOK
	case res.Unreachable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
