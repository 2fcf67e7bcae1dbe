package handler

import (
	"strings"

	"govportal/internal/auditfeed"
	"govportal/internal/domain"
	"govportal/internal/livesync"
	"govportal/internal/workflow"
	dErrors "govportal/pkg/domain-errors"
)

type stageRequest struct {
	ApplicationID string `json:"application_id"`
	Action        string `json:"action"`
	Note          string `json:"note"`
}

func (r *stageRequest) Normalize() {
	r.ApplicationID = strings.TrimSpace(r.ApplicationID)
	r.Action = strings.TrimSpace(r.Action)
}

func (r *stageRequest) Validate() error {
	if r.ApplicationID == "" {
		return dErrors.New(dErrors.CodeValidation, "application_id is required")
	}
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	return workflow.ValidateNote(r.Note)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (r *noteRequest) Validate() error {
	return workflow.ValidateNote(r.Note)
}

type applicationsResponse struct {
	Applications []domain.Application `json:"applications"`
	Loading      bool                 `json:"loading"`
	Error        string               `json:"error,omitempty"`
}

func newApplicationsResponse(s livesync.Snapshot) applicationsResponse {
	resp := applicationsResponse{Applications: s.Items, Loading: s.Loading}
	if resp.Applications == nil {
		resp.Applications = []domain.Application{}
	}
	if s.Err != nil {
		resp.Error = "failed to load applications"
	}
	return resp
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Role    string              `json:"role"`
	Loading bool                `json:"loading"`
	Error   string              `json:"error,omitempty"`
}

func newAuditResponse(s auditfeed.Snapshot, role string) auditResponse {
	resp := auditResponse{Entries: s.Entries, Role: role, Loading: s.Loading}
	if resp.Entries == nil {
		resp.Entries = []domain.AuditEntry{}
	}
	if s.Err != nil {
		resp.Error = "failed to load audit logs"
	}
	return resp
}

type dialogResponse struct {
	State  string           `json:"state"`
	Staged *workflow.Staged `json:"staged,omitempty"`
}

type outcomeResponse struct {
	ApplicationID string             `json:"application_id"`
	Action        string             `json:"action"`
	Result        string             `json:"result"`
	Updated       bool               `json:"updated"`
	Audited       bool               `json:"audited"`
	Compensated   bool               `json:"compensated"`
	AuditEntry    *domain.AuditEntry `json:"audit_entry,omitempty"`
	Errors        map[string]string  `json:"errors,omitempty"`
}

func newOutcomeResponse(o workflow.Outcome) outcomeResponse {
	resp := outcomeResponse{
		ApplicationID: o.ApplicationID,
		Action:        o.Action,
		Result:        o.Result(),
		Updated:       o.Updated,
		Audited:       o.Audited,
		Compensated:   o.Compensated,
		AuditEntry:    o.AuditEntry,
	}
	errs := map[string]string{}
	if o.UpdateErr != nil {
		errs["update"] = "status update failed"
	}
	if o.AuditErr != nil {
		errs["audit"] = "audit insert failed"
	}
	if o.CompensateErr != nil {
		errs["compensate"] = "status restore failed"
	}
	if o.RefreshErr != nil {
		errs["refresh"] = "list refresh failed"
	}
	if len(errs) > 0 {
		resp.Errors = errs
	}
	return resp
}

type streamSnapshot struct {
	Applications applicationsResponse `json:"applications"`
	Audit        auditResponse        `json:"audit"`
}
