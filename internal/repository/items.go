package repository

import (
	"fmt"
	"time"

	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

// Attribute names. Key attributes are PascalCase, the rest camelCase.
const (
	attrOwnerID        = "OwnerId"
	attrRequestID      = "RequestId"
	attrCounterpartyID = "CounterpartyId"
	attrStatus         = "status"
	attrDecidedAt      = "decidedAt"

	attrClientID    = "ClientId"
	attrTherapistID = "TherapistId"

	attrSlotID = "SlotId"
	attrHeldBy = "heldBy"

	attrSessionID       = "SessionId"
	attrSessionClientID = "clientId"
	attrSharedNotes     = "sharedNotes"
	attrPrivateNotes    = "privateNotes"

	guardPrefix = "PENDING#"
)

// requestItem is the stored form of every request variant. Pending-pair
// guards share the table but only set the key and pendingRequestId, which
// keeps them out of the counterparty index and out of status-filtered reads.
type requestItem struct {
	OwnerID          string `dynamodbav:"OwnerId"`
	RequestID        string `dynamodbav:"RequestId"`
	CounterpartyID   string `dynamodbav:"CounterpartyId,omitempty"`
	Kind             string `dynamodbav:"kind,omitempty"`
	Status           string `dynamodbav:"status,omitempty"`
	CreatedAt        string `dynamodbav:"createdAt,omitempty"`
	DecidedAt        string `dynamodbav:"decidedAt,omitempty"`
	SlotID           string `dynamodbav:"SlotId,omitempty"`
	Date             string `dynamodbav:"date,omitempty"`
	StartTime        string `dynamodbav:"startTime,omitempty"`
	EndTime          string `dynamodbav:"endTime,omitempty"`
	PendingRequestID string `dynamodbav:"pendingRequestId,omitempty"`
}

type relationItem struct {
	ClientID    string `dynamodbav:"ClientId"`
	TherapistID string `dynamodbav:"TherapistId"`
	MappedAt    string `dynamodbav:"mappedAt"`
}

type slotItem struct {
	TherapistID string `dynamodbav:"TherapistId"`
	SlotID      string `dynamodbav:"SlotId"`
	Status      string `dynamodbav:"status"`
	Date        string `dynamodbav:"date"`
	StartTime   string `dynamodbav:"startTime"`
	EndTime     string `dynamodbav:"endTime"`
	HeldBy      string `dynamodbav:"heldBy,omitempty"`
}

type sessionItem struct {
	TherapistID          string `dynamodbav:"TherapistId"`
	SessionID            string `dynamodbav:"SessionId"`
	ClientID             string `dynamodbav:"clientId"`
	AppointmentRequestID string `dynamodbav:"appointmentRequestId,omitempty"`
	Date                 string `dynamodbav:"date"`
	StartTime            string `dynamodbav:"startTime"`
	EndTime              string `dynamodbav:"endTime"`
	Status               string `dynamodbav:"status"`
	SharedNotes          string `dynamodbav:"sharedNotes"`
	PrivateNotes         string `dynamodbav:"privateNotes"`
}

func requestKey(ownerKey, requestID string) store.Key {
	return store.StringKey(attrOwnerID, ownerKey, attrRequestID, requestID)
}

func guardKey(ownerKey, counterpartyID string) store.Key {
	return requestKey(ownerKey, guardPrefix+counterpartyID)
}

func relationKey(clientID, therapistID string) store.Key {
	return store.StringKey(attrClientID, clientID, attrTherapistID, therapistID)
}

func slotKey(therapistID, slotID string) store.Key {
	return store.StringKey(attrTherapistID, therapistID, attrSlotID, slotID)
}

func sessionKey(therapistID, sessionID string) store.Key {
	return store.StringKey(attrTherapistID, therapistID, attrSessionID, sessionID)
}

func toRequestItem(req domain.Request) requestItem {
	h := req.Header()
	item := requestItem{
		OwnerID:        h.OwnerKey,
		RequestID:      h.RequestID,
		CounterpartyID: h.CounterpartyID,
		Kind:           string(req.Kind()),
		Status:         string(h.State),
		CreatedAt:      store.FormatTime(h.CreatedAt),
	}
	if !h.DecidedAt.IsZero() {
		item.DecidedAt = store.FormatTime(h.DecidedAt)
	}
	if appt, ok := req.(*domain.AppointmentRequest); ok {
		item.SlotID = appt.SlotID
		item.Date = appt.Date
		item.StartTime = appt.StartTime
		item.EndTime = appt.EndTime
	}
	return item
}

func guardItem(ownerKey, counterpartyID, requestID string) requestItem {
	return requestItem{
		OwnerID:          ownerKey,
		RequestID:        guardPrefix + counterpartyID,
		PendingRequestID: requestID,
	}
}

func (it requestItem) isGuard() bool {
	return it.Status == ""
}

func (it requestItem) toDomain(kind domain.Kind) (domain.Request, error) {
	status, err := domain.ParseStatus(it.Status)
	if err != nil {
		return nil, fmt.Errorf("repository: request %s: %w", it.RequestID, err)
	}
	createdAt, err := parseTime(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: request %s createdAt: %w", it.RequestID, err)
	}
	h := domain.RequestHeader{
		OwnerKey:       it.OwnerID,
		RequestID:      it.RequestID,
		CounterpartyID: it.CounterpartyID,
		State:          status,
		CreatedAt:      createdAt,
	}
	if it.DecidedAt != "" {
		if h.DecidedAt, err = parseTime(it.DecidedAt); err != nil {
			return nil, fmt.Errorf("repository: request %s decidedAt: %w", it.RequestID, err)
		}
	}
	switch kind {
	case domain.KindMapping:
		return &domain.MappingRequest{RequestHeader: h}, nil
	case domain.KindJournalAccess:
		return &domain.JournalAccessRequest{RequestHeader: h}, nil
	case domain.KindAppointment:
		return &domain.AppointmentRequest{
			RequestHeader: h,
			SlotID:        it.SlotID,
			Date:          it.Date,
			StartTime:     it.StartTime,
			EndTime:       it.EndTime,
		}, nil
	}
	return nil, fmt.Errorf("repository: unknown request kind %q", kind)
}

func toRelationItem(rel domain.Relation) relationItem {
	return relationItem{
		ClientID:    rel.ClientID,
		TherapistID: rel.TherapistID,
		MappedAt:    store.FormatTime(rel.MappedAt),
	}
}

func (it relationItem) toDomain() (domain.Relation, error) {
	mappedAt, err := parseTime(it.MappedAt)
	if err != nil {
		return domain.Relation{}, fmt.Errorf("repository: relation %s/%s: mappedAt: %w", it.ClientID, it.TherapistID, err)
	}
	return domain.Relation{ClientID: it.ClientID, TherapistID: it.TherapistID, MappedAt: mappedAt}, nil
}

func toSlotItem(s domain.Slot) slotItem {
	return slotItem{
		TherapistID: s.TherapistID,
		SlotID:      s.SlotID,
		Status:      string(s.Status),
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		HeldBy:      s.HeldBy,
	}
}

func (it slotItem) toDomain() domain.Slot {
	return domain.Slot{
		TherapistID: it.TherapistID,
		SlotID:      it.SlotID,
		Status:      domain.SlotStatus(it.Status),
		Date:        it.Date,
		StartTime:   it.StartTime,
		EndTime:     it.EndTime,
		HeldBy:      it.HeldBy,
	}
}

func toSessionItem(s domain.Session) sessionItem {
	return sessionItem{
		TherapistID:          s.TherapistID,
		SessionID:            s.SessionID,
		ClientID:             s.ClientID,
		AppointmentRequestID: s.AppointmentRequestID,
		Date:                 s.Date,
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		Status:               s.Status,
		SharedNotes:          s.SharedNotes,
		PrivateNotes:         s.PrivateNotes,
	}
}

func (it sessionItem) toDomain() domain.Session {
	return domain.Session{
		TherapistID:          it.TherapistID,
		SessionID:            it.SessionID,
		ClientID:             it.ClientID,
		AppointmentRequestID: it.AppointmentRequestID,
		Date:                 it.Date,
		StartTime:            it.StartTime,
		EndTime:              it.EndTime,
		Status:               it.Status,
		SharedNotes:          it.SharedNotes,
		PrivateNotes:         it.PrivateNotes,
	}
}

// parseTime reads both the fixed-width store format and plain RFC 3339.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
