package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which workflow a request belongs to.
type Kind string

const (
	KindMapping       Kind = "mapping"
	KindJournalAccess Kind = "journal_access"
	KindAppointment   Kind = "appointment"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMapping, KindJournalAccess, KindAppointment:
		return true
	}
	return false
}

// UniquePerPair reports whether at most one pending request may exist for an
// owner/counterparty pair. Appointment requests are constrained by slot
// reservation instead.
func (k Kind) UniquePerPair() bool {
	return k == KindMapping || k == KindJournalAccess
}

type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// ParseStatus accepts any casing of the three status names.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Decision is the outcome chosen by the deciding party.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts both the verb ("approve") and the resulting status
// ("approved"), case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", fmt.Errorf("%w: decision must be approve or reject, got %q", ErrValidation, s)
}

func (d Decision) Status() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Request is implemented by MappingRequest, JournalAccessRequest and
// AppointmentRequest.
type Request interface {
	Kind() Kind
	Header() *RequestHeader
	Status() Status
	Transition(to Status, at time.Time) error
}

// RequestHeader holds the fields shared by every request variant.
type RequestHeader struct {
	OwnerKey       string
	RequestID      string
	CounterpartyID string
	State          Status
	CreatedAt      time.Time
	DecidedAt      time.Time
}

func (h *RequestHeader) Header() *RequestHeader { return h }

func (h *RequestHeader) Status() Status { return h.State }

// Transition moves a pending request to a terminal status. It is the only
// mutation a request allows.
func (h *RequestHeader) Transition(to Status, at time.Time) error {
	if to != StatusApproved && to != StatusRejected {
		return fmt.Errorf("%w: cannot transition to %q", ErrValidation, to)
	}
	if h.State != StatusPending {
		return fmt.Errorf("%w: request %s is %s", ErrInvalidState, h.RequestID, h.State)
	}
	h.State = to
	h.DecidedAt = at.UTC()
	return nil
}

// MappingRequest asks a client to accept a therapist. Owned by the client.
type MappingRequest struct {
	RequestHeader
}

func (*MappingRequest) Kind() Kind { return KindMapping }

func (r *MappingRequest) ClientID() string    { return r.OwnerKey }
func (r *MappingRequest) TherapistID() string { return r.CounterpartyID }

// JournalAccessRequest asks a client to let a therapist read their journal.
type JournalAccessRequest struct {
	RequestHeader
}

func (*JournalAccessRequest) Kind() Kind { return KindJournalAccess }

func (r *JournalAccessRequest) ClientID() string    { return r.OwnerKey }
func (r *JournalAccessRequest) TherapistID() string { return r.CounterpartyID }

// AppointmentRequest books a slot. Owned by the therapist whose slot it is.
type AppointmentRequest struct {
	RequestHeader
	SlotID    string
	Date      string
	StartTime string
	EndTime   string
}

func (*AppointmentRequest) Kind() Kind { return KindAppointment }

func (r *AppointmentRequest) TherapistID() string { return r.OwnerKey }
func (r *AppointmentRequest) ClientID() string    { return r.CounterpartyID }

// NewRequest describes a request to be created.
type NewRequest struct {
	Kind           Kind
	OwnerKey       string
	CounterpartyID string
	// IdempotencyKey, when set, is used as the request id so a retried create
	// returns the stored request instead of a duplicate.
	IdempotencyKey string
	// Slot is required for appointment requests; its date and times are copied.
	Slot *Slot
}

func (n NewRequest) Validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: unknown request kind %q", ErrValidation, n.Kind)
	}
	if strings.TrimSpace(n.OwnerKey) == "" {
		return fmt.Errorf("%w: owner key is required", ErrValidation)
	}
	if strings.TrimSpace(n.CounterpartyID) == "" {
		return fmt.Errorf("%w: counterparty id is required", ErrValidation)
	}
	if n.Kind == KindAppointment && n.Slot == nil {
		return fmt.Errorf("%w: appointment request requires a slot", ErrValidation)
	}
	return nil
}

// Build materialises the variant for n with the given id and creation time.
func (n NewRequest) Build(requestID string, now time.Time) Request {
	h := RequestHeader{
		OwnerKey:       n.OwnerKey,
		RequestID:      requestID,
		CounterpartyID: n.CounterpartyID,
		State:          StatusPending,
		CreatedAt:      now.UTC(),
	}
	switch n.Kind {
	case KindMapping:
		return &MappingRequest{RequestHeader: h}
	case KindJournalAccess:
		return &JournalAccessRequest{RequestHeader: h}
	default:
		r := &AppointmentRequest{RequestHeader: h}
		if n.Slot != nil {
			r.SlotID = n.Slot.SlotID
			r.Date = n.Slot.Date
			r.StartTime = n.Slot.StartTime
			r.EndTime = n.Slot.EndTime
		}
		return r
	}
}
