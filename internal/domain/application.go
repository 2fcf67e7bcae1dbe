// Package domain holds the portal's records and their mapping to backend
// rows. Rows may come from the in-memory store (native Go values) or from
// PostgreSQL as decoded JSON (strings and float64), so decoding accepts both.
package domain

import (
	"fmt"
	"time"

	"govportal/internal/backend"
)

// Table names.
const (
	TableApplications = "applications"
	TableAuditLogs    = "audit_logs"
)

// Column names shared by both tables.
const (
	ColID            = backend.IDColumn
	ColOwnerID       = "owner_id"
	ColServiceType   = "service_type"
	ColStatus        = "status"
	ColDistrict      = "district"
	ColWard          = "ward"
	ColFeeAmount     = "fee_amount"
	ColPaymentStatus = "payment_status"
	ColCreatedAt     = "created_at"
	ColUpdatedAt     = "updated_at"

	ColApplicationID = "application_id"
	ColActorID       = "actor_id"
	ColActorRole     = "actor_role"
	ColAction        = "action"
	ColNote          = "note"
)

// Status is an application's review state. Transitions are not validated:
// any reviewer may set any label.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusApproved   Status = "approved"
	StatusDeclined   Status = "declined"
	StatusEscalated  Status = "escalated"
)

// PaymentStatus tracks the application fee.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Application is a citizen's service request.
type Application struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	ServiceType   string        `json:"service_type"`
	Status        Status        `json:"status"`
	District      string        `json:"district,omitempty"`
	Ward          string        `json:"ward,omitempty"`
	FeeAmount     float64       `json:"fee_amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Row encodes the application for the backend. Empty optional columns are
// written as NULL.
func (a Application) Row() backend.Row {
	row := backend.Row{
		ColOwnerID:       a.OwnerID,
		ColServiceType:   a.ServiceType,
		ColStatus:        string(a.Status),
		ColDistrict:      nullable(a.District),
		ColWard:          nullable(a.Ward),
		ColFeeAmount:     a.FeeAmount,
		ColPaymentStatus: string(a.PaymentStatus),
	}
	if a.ID != "" {
		row[ColID] = a.ID
	}
	if !a.CreatedAt.IsZero() {
		row[ColCreatedAt] = a.CreatedAt
	}
	if !a.UpdatedAt.IsZero() {
		row[ColUpdatedAt] = a.UpdatedAt
	}
	return row
}

// ApplicationFromRow decodes a backend row.
func ApplicationFromRow(row backend.Row) (Application, error) {
	fee, err := floatValue(row[ColFeeAmount])
	if err != nil {
		return Application{}, fmt.Errorf("application %s: %s: %w", row.String(ColID), ColFeeAmount, err)
	}
	created, err := timeValue(row[ColCreatedAt])
	if err != nil {
		return Application{}, fmt.Errorf("application %s: %s: %w", row.String(ColID), ColCreatedAt, err)
	}
	updated, err := timeValue(row[ColUpdatedAt])
	if err != nil {
		return Application{}, fmt.Errorf("application %s: %s: %w", row.String(ColID), ColUpdatedAt, err)
	}
	return Application{
		ID:            stringValue(row[ColID]),
		OwnerID:       stringValue(row[ColOwnerID]),
		ServiceType:   stringValue(row[ColServiceType]),
		Status:        Status(stringValue(row[ColStatus])),
		District:      stringValue(row[ColDistrict]),
		Ward:          stringValue(row[ColWard]),
		FeeAmount:     fee,
		PaymentStatus: PaymentStatus(stringValue(row[ColPaymentStatus])),
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

// ApplicationsFromRows decodes rows in order; one bad row fails the batch.
func ApplicationsFromRows(rows []backend.Row) ([]Application, error) {
	out := make([]Application, 0, len(rows))
	for _, r := range rows {
		a, err := ApplicationFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
