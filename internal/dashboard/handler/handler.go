package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"govportal/internal/dashboard"
	"govportal/internal/platform/metrics"
	"govportal/internal/platform/middleware"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/httputil"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/requestcontext"
	"govportal/pkg/session"
)

// DefaultPingInterval keeps idle SSE connections open through proxies.
const DefaultPingInterval = 15 * time.Second

// Dashboards resolves the caller's dashboard, mounting it on first use.
type Dashboards interface {
	Get(ctx context.Context, sess session.Session) (*dashboard.Dashboard, error)
}

// Handler serves the reviewer dashboard.
type Handler struct {
	logger       *slog.Logger
	dashboards   Dashboards
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	pingInterval time.Duration
}

type Option func(*Handler)

// WithPingInterval sets the SSE keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// New creates a new dashboard Handler.
func New(
	dashboards Dashboards,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	opts ...Option) *Handler {
	h := &Handler{
		logger:       logger,
		dashboards:   dashboards,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the dashboard routes with the chi router. The stream
// route is outside the request timeout.
func (h *Handler) Register(r chi.Router) {
	dashRouter := chi.NewRouter()
	dashRouter.Use(middleware.Recovery(h.logger))
	dashRouter.Use(middleware.RequestID)
	dashRouter.Use(middleware.RequestTime)
	dashRouter.Use(middleware.Logger(h.logger))
	dashRouter.Use(middleware.LatencyMiddleware(h.metrics))
	dashRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	dashRouter.Use(middleware.RequireRoles(h.logger,
		session.RoleStaff, session.RoleWard, session.RoleDistrict, session.RoleAdmin))

	dashRouter.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(middleware.ContentTypeJSON)
		r.Get("/applications", h.handleApplications)
		r.Get("/audit", h.handleAudit)
		r.Get("/audit/export", h.handleExport)
		r.Get("/actions", h.handleDialog)
		r.Post("/actions", h.handleStage)
		r.Patch("/actions/note", h.handleEditNote)
		r.Post("/actions/confirm", h.handleConfirm)
		r.Post("/actions/cancel", h.handleCancel)
	})
	dashRouter.Get("/stream", h.handleStream)

	r.Mount("/api/dashboard", dashRouter)
}

// dashboardFor resolves the dashboard or writes the error response.
func (h *Handler) dashboardFor(w http.ResponseWriter, r *http.Request) (*dashboard.Dashboard, bool) {
	ctx := r.Context()
	d, err := h.dashboards.Get(ctx, requestcontext.Session(ctx))
	if err != nil {
		h.writeError(ctx, w, err, "failed to open dashboard")
		return nil, false
	}
	return d, true
}

func (h *Handler) handleApplications(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newApplicationsResponse(d.Applications()))
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Has("role") {
		if err := d.SetAuditRoleFilter(ctx, r.URL.Query().Get("role")); err != nil {
			h.writeError(ctx, w, err, "failed to apply audit filter")
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, newAuditResponse(d.Audit(), d.AuditRoleFilter()))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	filename, err := d.ExportAuditCSV(&buf)
	if err != nil {
		h.writeError(ctx, w, err, "failed to export audit logs")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleDialog(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	writeDialog(w, d)
}

func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[stageRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	if _, err := d.Stage(ctx, req.ApplicationID, req.Action, req.Note); err != nil {
		h.writeError(ctx, w, err, "failed to stage action")
		return
	}
	writeDialog(w, d)
}

func (h *Handler) handleEditNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[noteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	if _, err := d.EditNote(req.Note); err != nil {
		h.writeError(ctx, w, err, "failed to edit note")
		return
	}
	writeDialog(w, d)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	outcome, err := d.Confirm(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to confirm action")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newOutcomeResponse(outcome))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	if err := d.Cancel(); err != nil {
		h.writeError(ctx, w, err, "failed to cancel action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream pushes a full snapshot on connect and after every change.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}
	d, ok := h.dashboardFor(w, r)
	if !ok {
		return
	}
	updates, stop := d.Updates()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		data, err := json.Marshal(streamSnapshot{
			Applications: newApplicationsResponse(d.Applications()),
			Audit:        newAuditResponse(d.Audit(), d.AuditRoleFilter()),
		})
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to encode snapshot",
				"request_id", middleware.GetRequestID(ctx),
				"error", err,
			)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok || !send() {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeDialog(w http.ResponseWriter, d *dashboard.Dashboard) {
	resp := dialogResponse{State: d.WorkflowState().String()}
	if staged, ok := d.Staged(); ok {
		resp.Staged = &staged
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := middleware.GetRequestID(ctx)
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidState, "action not allowed in the current dialog state"))
	case errors.Is(err, sentinel.ErrClosed):
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "dashboard is shutting down"))
	default:
		if _, ok := dErrors.From(err); ok && !dErrors.Is(err, dErrors.CodeInternal) {
			h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
	}
}
