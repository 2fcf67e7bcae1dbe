// Package applications lets citizens submit service applications and track
// their own submissions and fee payments.
package applications

import (
	"strings"

	dErrors "govportal/pkg/domain-errors"
)

const maxServiceTypeLen = 100

// SubmitRequest is a citizen's new application. District and ward default
// to the citizen's session when omitted.
type SubmitRequest struct {
	ServiceType string  `json:"service_type"`
	FeeAmount   float64 `json:"fee_amount"`
	District    string  `json:"district,omitempty"`
	Ward        string  `json:"ward,omitempty"`
}

func (r *SubmitRequest) Normalize() {
	r.ServiceType = strings.TrimSpace(r.ServiceType)
	r.District = strings.TrimSpace(r.District)
	r.Ward = strings.TrimSpace(r.Ward)
}

func (r *SubmitRequest) Validate() error {
	if r.ServiceType == "" {
		return dErrors.New(dErrors.CodeValidation, "service_type is required")
	}
	if len(r.ServiceType) > maxServiceTypeLen {
		return dErrors.New(dErrors.CodeValidation, "service_type is too long")
	}
	if r.FeeAmount < 0 {
		return dErrors.New(dErrors.CodeValidation, "fee_amount must not be negative")
	}
	return nil
}
