package handler

import (
	"time"

	"therapy-service/internal/domain"
)

type requestView struct {
	RequestID   string `json:"requestId"`
	Kind        string `json:"kind"`
	ClientID    string `json:"clientId"`
	TherapistID string `json:"therapistId"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	DecidedAt   string `json:"decidedAt,omitempty"`
	SlotID      string `json:"slotId,omitempty"`
	Date        string `json:"date,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
}

func newRequestView(r domain.Request) requestView {
	h := r.Header()
	v := requestView{
		RequestID: h.RequestID,
		Kind:      string(r.Kind()),
		Status:    string(h.State),
		CreatedAt: formatTime(h.CreatedAt),
		DecidedAt: formatTime(h.DecidedAt),
	}
	switch req := r.(type) {
	case *domain.AppointmentRequest:
		v.TherapistID, v.ClientID = req.TherapistID(), req.ClientID()
		v.SlotID, v.Date, v.StartTime, v.EndTime = req.SlotID, req.Date, req.StartTime, req.EndTime
	default:
		// Mapping and journal-access requests are owned by the client.
		v.ClientID, v.TherapistID = h.OwnerKey, h.CounterpartyID
	}
	return v
}

func newRequestViews(reqs []domain.Request) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, newRequestView(r))
	}
	return out
}

type relationView struct {
	ClientID    string `json:"clientId"`
	TherapistID string `json:"therapistId"`
	MappedAt    string `json:"mappedAt"`
}

func newRelationViews(rels []domain.Relation) []relationView {
	out := make([]relationView, 0, len(rels))
	for _, r := range rels {
		out = append(out, relationView{ClientID: r.ClientID, TherapistID: r.TherapistID, MappedAt: formatTime(r.MappedAt)})
	}
	return out
}

type deltaView struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

func newDeltaView(d domain.RelationDelta) deltaView {
	v := deltaView{Added: d.Added, Removed: d.Removed}
	if v.Added == nil {
		v.Added = []string{}
	}
	if v.Removed == nil {
		v.Removed = []string{}
	}
	return v
}

type slotView struct {
	TherapistID string `json:"therapistId"`
	SlotID      string `json:"slotId"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
}

func newSlotView(s domain.Slot) slotView {
	return slotView{
		TherapistID: s.TherapistID,
		SlotID:      s.SlotID,
		Status:      string(s.Status),
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}

func newSlotViews(slots []domain.Slot) []slotView {
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, newSlotView(s))
	}
	return out
}

type sessionView struct {
	TherapistID          string `json:"therapistId"`
	SessionID            string `json:"sessionId"`
	ClientID             string `json:"clientId"`
	AppointmentRequestID string `json:"appointmentRequestId,omitempty"`
	Date                 string `json:"date"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
	Status               string `json:"status"`
	SharedNotes          string `json:"sharedNotes"`
	PrivateNotes         string `json:"privateNotes"`
}

func newSessionView(s domain.Session) sessionView {
	return sessionView{
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

func newSessionViews(sessions []domain.Session) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionView(s))
	}
	return out
}

type appointmentDecisionView struct {
	Request requestView  `json:"request"`
	Session *sessionView `json:"session,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
