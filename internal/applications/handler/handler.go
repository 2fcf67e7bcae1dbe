package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"govportal/internal/applications"
	"govportal/internal/domain"
	"govportal/internal/platform/metrics"
	"govportal/internal/platform/middleware"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/httputil"
	"govportal/pkg/requestcontext"
	"govportal/pkg/session"
)

// Service defines the citizen application operations.
type Service interface {
	Submit(ctx context.Context, sess session.Session, req applications.SubmitRequest) (domain.Application, error)
	ListMine(ctx context.Context, sess session.Session) ([]domain.Application, error)
	MarkPaid(ctx context.Context, sess session.Session, applicationID string) (domain.Application, error)
}

// Handler serves the citizen application endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new applications Handler.
func New(
	service Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the application routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	appRouter := chi.NewRouter()
	appRouter.Use(middleware.Recovery(h.logger))
	appRouter.Use(middleware.RequestID)
	appRouter.Use(middleware.RequestTime)
	appRouter.Use(middleware.Logger(h.logger))
	appRouter.Use(middleware.Timeout(30 * time.Second))
	appRouter.Use(middleware.ContentTypeJSON)
	appRouter.Use(middleware.LatencyMiddleware(h.metrics))
	appRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	appRouter.Use(middleware.RequireRoles(h.logger, session.RoleCitizen))
	appRouter.Post("/", h.handleSubmit)
	appRouter.Get("/mine", h.handleListMine)
	appRouter.Post("/{id}/payment", h.handleMarkPaid)

	r.Mount("/api/applications", appRouter)
}

type listResponse struct {
	Applications []domain.Application `json:"applications"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	sess := requestcontext.Session(ctx)

	req, ok := httputil.DecodeAndPrepare[applications.SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	app, err := h.service.Submit(ctx, sess, *req)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to submit application")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := requestcontext.Session(ctx)

	apps, err := h.service.ListMine(ctx, sess)
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to list applications")
		return
	}
	if apps == nil {
		apps = []domain.Application{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Applications: apps})
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := requestcontext.Session(ctx)

	app, err := h.service.MarkPaid(ctx, sess, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to record payment")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := middleware.GetRequestID(ctx)
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
