package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"govportal/internal/applications"
	"govportal/internal/backend"
	"govportal/internal/domain"
	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/platform/sentinel"
	"govportal/pkg/requestcontext"
	"govportal/pkg/session"
)

// Service handles the citizen side of applications. Reviewer actions go
// through the dashboard workflow instead.
type Service struct {
	store  backend.Backend
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store backend.Backend, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates a pending, unpaid application owned by the citizen.
func (s *Service) Submit(ctx context.Context, sess session.Session, req applications.SubmitRequest) (domain.Application, error) {
	if sess.IsZero() {
		return domain.Application{}, dErrors.New(dErrors.CodeUnauthorized, "session required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.Application{}, err
	}

	district, ward := req.District, req.Ward
	if district == "" {
		district = sess.District
	}
	if ward == "" {
		ward = sess.Ward
	}

	now := requestcontext.Now(ctx).UTC()
	app := domain.Application{
		OwnerID:       sess.ActorID,
		ServiceType:   req.ServiceType,
		Status:        domain.StatusPending,
		District:      district,
		Ward:          ward,
		FeeAmount:     req.FeeAmount,
		PaymentStatus: domain.PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	row, err := s.store.Insert(ctx, domain.TableApplications, app.Row())
	if err != nil {
		return domain.Application{}, translate(err, "failed to submit application")
	}
	created, err := domain.ApplicationFromRow(row)
	if err != nil {
		return domain.Application{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode application")
	}
	s.logger.InfoContext(ctx, "application submitted",
		"application_id", created.ID,
		"owner_id", created.OwnerID,
		"service_type", created.ServiceType,
	)
	return created, nil
}

// ListMine returns the citizen's applications, newest first.
func (s *Service) ListMine(ctx context.Context, sess session.Session) ([]domain.Application, error) {
	if sess.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session required")
	}
	rows, err := s.store.Query(ctx, backend.Query{
		Table:   domain.TableApplications,
		Filters: []backend.Filter{backend.Eq(domain.ColOwnerID, sess.ActorID)},
		OrderBy: domain.ColCreatedAt,
	})
	if err != nil {
		return nil, translate(err, "failed to list applications")
	}
	apps, err := domain.ApplicationsFromRows(rows)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode applications")
	}
	return apps, nil
}

// MarkPaid records the fee as paid. Only the owner may pay, and paying twice
// is a no-op.
func (s *Service) MarkPaid(ctx context.Context, sess session.Session, applicationID string) (domain.Application, error) {
	if sess.IsZero() {
		return domain.Application{}, dErrors.New(dErrors.CodeUnauthorized, "session required")
	}
	if applicationID == "" {
		return domain.Application{}, dErrors.New(dErrors.CodeValidation, "application id is required")
	}
	app, err := s.get(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if app.OwnerID != sess.ActorID {
		// Not revealing other citizens' applications.
		return domain.Application{}, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if app.PaymentStatus == domain.PaymentPaid {
		return app, nil
	}

	row, err := s.store.Update(ctx, domain.TableApplications, applicationID, backend.Row{
		domain.ColPaymentStatus: string(domain.PaymentPaid),
		domain.ColUpdatedAt:     requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return domain.Application{}, translate(err, "failed to record payment")
	}
	updated, err := domain.ApplicationFromRow(row)
	if err != nil {
		return domain.Application{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode application")
	}
	s.logger.InfoContext(ctx, "application fee paid",
		"application_id", updated.ID,
		"owner_id", updated.OwnerID,
		"fee_amount", updated.FeeAmount,
	)
	return updated, nil
}

func (s *Service) get(ctx context.Context, id string) (domain.Application, error) {
	rows, err := s.store.Query(ctx, backend.Query{
		Table:   domain.TableApplications,
		Filters: []backend.Filter{backend.Eq(domain.ColID, id)},
		OrderBy: domain.ColCreatedAt,
		Limit:   1,
	})
	if err != nil {
		return domain.Application{}, translate(err, "failed to load application")
	}
	if len(rows) == 0 {
		return domain.Application{}, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	app, err := domain.ApplicationFromRow(rows[0])
	if err != nil {
		return domain.Application{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode application")
	}
	return app, nil
}

func translate(err error, msg string) error {
	switch {
	case backend.IsNotFound(err):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
