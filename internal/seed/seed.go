// Package seed loads demo data for development runs on the memory backend.
package seed

import (
	"context"
	"fmt"
	"time"

	"govportal/internal/backend"
	"govportal/internal/domain"
	"govportal/internal/workflow"
	"govportal/pkg/session"
)

type demoApplication struct {
	owner, service, district, ward string
	status                         domain.Status
	fee                            float64
	paid                           bool
}

var demoApplications = []demoApplication{
	{"citizen-1", "Birth Certificate", "Ilala", "Upanga", domain.StatusPending, 3500, true},
	{"citizen-2", "Business Permit", "Ilala", "Kariakoo", domain.StatusInProgress, 50000, true},
	{"citizen-3", "Building Permit", "Ilala", "Upanga", domain.StatusPending, 120000, false},
	{"citizen-1", "Land Title Transfer", "Kinondoni", "Msasani", domain.StatusEscalated, 80000, true},
	{"citizen-4", "Marriage Certificate", "Kinondoni", "Mwananyamala", domain.StatusApproved, 10000, true},
	{"citizen-5", "Trading Licence", "Kinondoni", "Msasani", domain.StatusDeclined, 25000, false},
}

// Demo inserts applications across two districts and four wards, plus one
// audit entry per application that is past pending. Timestamps count back
// from now so the newest application is first.
func Demo(ctx context.Context, w backend.Writer, now time.Time) (int, error) {
	n := 0
	for i, d := range demoApplications {
		created := now.Add(-time.Duration(len(demoApplications)-i) * time.Hour).UTC()
		payment := domain.PaymentUnpaid
		if d.paid {
			payment = domain.PaymentPaid
		}
		app := domain.Application{
			OwnerID:       d.owner,
			ServiceType:   d.service,
			Status:        d.status,
			District:      d.district,
			Ward:          d.ward,
			FeeAmount:     d.fee,
			PaymentStatus: payment,
			CreatedAt:     created,
			UpdatedAt:     created,
		}
		row, err := w.Insert(ctx, domain.TableApplications, app.Row())
		if err != nil {
			return n, fmt.Errorf("seed application %d: %w", i, err)
		}
		n++
		if d.status == domain.StatusPending {
			continue
		}

		entry := domain.AuditEntry{
			ApplicationID: row.String(domain.ColID),
			ActorID:       "officer-" + d.ward,
			ActorRole:     session.RoleWard.String(),
			District:      d.district,
			Ward:          d.ward,
			Action:        string(d.status),
			Note:          workflow.DefaultNote(string(d.status), session.RoleWard),
			CreatedAt:     created.Add(30 * time.Minute),
		}
		if _, err := w.Insert(ctx, domain.TableAuditLogs, entry.Row()); err != nil {
			return n, fmt.Errorf("seed audit entry %d: %w", i, err)
		}
	}
	return n, nil
}

