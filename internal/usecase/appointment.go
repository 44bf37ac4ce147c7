package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"therapy-service/internal/domain"
)

// sessionNamespace scopes the name-based ids of sessions.
var sessionNamespace = uuid.MustParse("6f1c2d7e-3b5a-4c8e-9d42-1a7b0e5f9c31")

// SessionIDFor derives the id of the session created by approving
// appointment request requestID. Retried approvals therefore target the
// same session.
func SessionIDFor(requestID string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(requestID)).String()
}

type AppointmentInput struct {
	ClientID       string
	SlotID         string
	IdempotencyKey string
}

type AppointmentDecisionInput struct {
	Decision string
	Notes    string
}

type AppointmentDecision struct {
	Request *domain.AppointmentRequest
	// Session is set when the request was approved.
	Session *domain.Session
}

// RequestAppointment books one of the therapist's slots for a client. The
// request is stored and the slot reserved in one write, so two clients can
// never hold the same slot.
func (s *WorkflowService) RequestAppointment(ctx context.Context, therapistID string, in AppointmentInput) (*domain.AppointmentRequest, error) {
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(in.ClientID) == "" || strings.TrimSpace(in.SlotID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_appointment_fields", nil)
	}
	id := strings.TrimSpace(in.IdempotencyKey)
	if id == "" {
		id = newUUID()
	}

	slot, err := s.slots.Get(ctx, therapistID, in.SlotID)
	if err != nil {
		return nil, classify("slot", err)
	}
	// A slot already held by this id is a retried request; Create replays it.
	if !s.slots.IsBookable(slot) && slot.HeldBy != id {
		return nil, newError(ErrorConflict, "slot_not_available", nil)
	}

	req, err := s.requests.Create(ctx, domain.NewRequest{
		Kind:           domain.KindAppointment,
		OwnerKey:       therapistID,
		CounterpartyID: in.ClientID,
		IdempotencyKey: id,
		Slot:           &slot,
	}, domain.ReserveSlot{TherapistID: therapistID, SlotID: slot.SlotID, Holder: id})
	if err != nil {
		return nil, classify("appointment_request", err)
	}
	s.metrics.RequestCreated(string(domain.KindAppointment))
	return req.(*domain.AppointmentRequest), nil
}

// DecideAppointment approves or rejects a pending appointment request.
// Approval creates a Scheduled session with notes as its private notes and
// keeps the slot booked. Rejection frees the slot.
func (s *WorkflowService) DecideAppointment(ctx context.Context, therapistID, requestID string, in AppointmentDecisionInput) (AppointmentDecision, error) {
	decision, err := parseDecision(in.Decision)
	if err != nil {
		return AppointmentDecision{}, err
	}
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(requestID) == "" {
		return AppointmentDecision{}, newError(ErrorInvalidInput, "missing_appointment_request_id", nil)
	}
	req, err := s.requests.Get(ctx, domain.KindAppointment, therapistID, requestID)
	if err != nil {
		return AppointmentDecision{}, classify("appointment_request", err)
	}
	appt := req.(*domain.AppointmentRequest)
	if appt.Status() != domain.StatusPending {
		return AppointmentDecision{}, newError(ErrorInvalidState, "appointment_request_already_decided", nil)
	}

	var (
		effects []domain.SideEffect
		session *domain.Session
	)
	if decision == domain.DecisionApprove {
		session = &domain.Session{
			TherapistID:          therapistID,
			SessionID:            SessionIDFor(appt.RequestID),
			ClientID:             appt.ClientID(),
			AppointmentRequestID: appt.RequestID,
			Date:                 appt.Date,
			StartTime:            appt.StartTime,
			EndTime:              appt.EndTime,
			Status:               domain.SessionScheduled,
			PrivateNotes:         in.Notes,
		}
		effects = append(effects, domain.CreateSession{Session: *session})
	} else {
		release, err := s.releaseFor(ctx, appt)
		if err != nil {
			return AppointmentDecision{}, err
		}
		effects = append(effects, release...)
	}

	if err := s.decide(ctx, appt, decision, "appointment_request", effects...); err != nil {
		return AppointmentDecision{}, err
	}
	return AppointmentDecision{Request: appt, Session: session}, nil
}

// releaseFor returns the effect freeing the request's slot, if it still holds
// one. A slot that was deleted or is held by another request is left alone.
func (s *WorkflowService) releaseFor(ctx context.Context, appt *domain.AppointmentRequest) ([]domain.SideEffect, error) {
	if appt.SlotID == "" {
		return nil, nil
	}
	slot, err := s.slots.Get(ctx, appt.TherapistID(), appt.SlotID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("slot", err)
	}
	if slot.HeldBy != appt.RequestID {
		return nil, nil
	}
	return []domain.SideEffect{domain.ReleaseSlot{
		TherapistID: appt.TherapistID(),
		SlotID:      appt.SlotID,
		Holder:      appt.RequestID,
	}}, nil
}

// ListAppointmentRequests returns the therapist's appointment requests,
// optionally filtered by status.
func (s *WorkflowService) ListAppointmentRequests(ctx context.Context, therapistID, status string) ([]domain.Request, error) {
	filter, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByOwner(ctx, domain.KindAppointment, therapistID, filter)
	if err != nil {
		return nil, classify("appointment_request", err)
	}
	return reqs, nil
}
