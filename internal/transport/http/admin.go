package httptransport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"govportal/internal/backend/pending"
	"govportal/internal/platform/middleware"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/httputil"
	"govportal/pkg/session"
)

const maxTokenTTL = 24 * time.Hour

// TokenIssuer mints bearer tokens for development sessions.
type TokenIssuer interface {
	GenerateAccessToken(sess session.Session, expiresIn time.Duration) (string, error)
}

// PendingWrites exposes the failed-write buffer.
type PendingWrites interface {
	Pending() []pending.Write
	Len() int
	Dropped() int64
}

// AdminHandler serves operator endpoints behind X-Admin-Token.
type AdminHandler struct {
	logger  *slog.Logger
	token   string
	pending PendingWrites
	issuer  TokenIssuer
}

// NewAdminHandler creates the operator endpoints. pending and issuer may be
// nil, in which case their routes answer 404.
func NewAdminHandler(token string, pendingWrites PendingWrites, issuer TokenIssuer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{logger: logger, token: token, pending: pendingWrites, issuer: issuer}
}

func (h *AdminHandler) Register(r chi.Router) {
	adminRouter := chi.NewRouter()
	adminRouter.Use(middleware.Recovery(h.logger))
	adminRouter.Use(middleware.RequestID)
	adminRouter.Use(middleware.Logger(h.logger))
	adminRouter.Use(middleware.RequireAdminToken(h.token, h.logger))
	adminRouter.Use(middleware.ContentTypeJSON)
	if h.pending != nil {
		adminRouter.Get("/pending-writes", h.handlePendingWrites)
	}
	if h.issuer != nil {
		adminRouter.Post("/tokens", h.handleIssueToken)
	}
	r.Mount("/admin", adminRouter)
}

type pendingWritesResponse struct {
	Writes  []pending.Write `json:"writes"`
	Count   int             `json:"count"`
	Dropped int64           `json:"dropped"`
}

func (h *AdminHandler) handlePendingWrites(w http.ResponseWriter, r *http.Request) {
	writes := h.pending.Pending()
	if writes == nil {
		writes = []pending.Write{}
	}
	httputil.WriteJSON(w, http.StatusOK, pendingWritesResponse{
		Writes:  writes,
		Count:   h.pending.Len(),
		Dropped: h.pending.Dropped(),
	})
}

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	District string `json:"district"`
	Ward     string `json:"ward"`
	TTL      string `json:"ttl"`

	role session.Role
	ttl  time.Duration
}

func (r *issueTokenRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.District = strings.TrimSpace(r.District)
	r.Ward = strings.TrimSpace(r.Ward)
}

func (r *issueTokenRequest) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	role, err := session.ParseRole(r.Role)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "unknown role")
	}
	r.role = role
	r.ttl = time.Hour
	if r.TTL != "" {
		ttl, err := time.ParseDuration(r.TTL)
		if err != nil || ttl <= 0 || ttl > maxTokenTTL {
			return dErrors.New(dErrors.CodeValidation, "ttl must be a positive duration up to 24h")
		}
		r.ttl = ttl
	}
	return nil
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *AdminHandler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[issueTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	sess := session.Session{ActorID: req.UserID, Role: req.role, District: req.District, Ward: req.Ward}
	token, err := h.issuer.GenerateAccessToken(sess, req.ttl)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}
	h.logger.InfoContext(ctx, "development token issued",
		"request_id", requestID,
		"actor_id", sess.ActorID,
		"role", sess.Role,
	)
	httputil.WriteJSON(w, http.StatusOK, issueTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(req.ttl.Seconds()),
	})
}
