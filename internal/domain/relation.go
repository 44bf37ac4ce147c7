package domain

import "time"

// Relation is a confirmed therapist-client association. Its existence grants
// the therapist journal and session visibility for the client.
type Relation struct {
	ClientID    string
	TherapistID string
	MappedAt    time.Time
}

// RelationDelta lists the therapist ids a rebuild added and removed.
type RelationDelta struct {
	Added   []string
	Removed []string
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "Available"
	SlotBooked    SlotStatus = "Booked"
)

// Slot is a bookable time window declared by a therapist.
type Slot struct {
	TherapistID string
	SlotID      string
	Status      SlotStatus
	Date        string
	StartTime   string
	EndTime     string
	// HeldBy is the appointment request id holding the reservation.
	HeldBy string
}

func (s Slot) Bookable() bool {
	return s.Status == SlotAvailable
}

const SessionScheduled = "Scheduled"

// Session is an approved meeting derived from an AppointmentRequest.
type Session struct {
	TherapistID          string
	SessionID            string
	ClientID             string
	AppointmentRequestID string
	Date                 string
	StartTime            string
	EndTime              string
	Status               string
	SharedNotes          string
	PrivateNotes         string
}

// SessionPatch lists the session fields a therapist may change. Nil fields
// are left untouched.
type SessionPatch struct {
	Status       *string
	SharedNotes  *string
	PrivateNotes *string
}

func (p SessionPatch) Empty() bool {
	return p.Status == nil && p.SharedNotes == nil && p.PrivateNotes == nil
}
