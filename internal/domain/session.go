package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle phase of a consultation session
type Phase string

const (
	PhaseScheduled  Phase = "scheduled"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
)

// IsTerminal reports whether the phase admits no further transitions
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// CanTransition reports whether the phase may move to next. The lifecycle
// only moves forward: scheduled → in_progress → completed, with
// cancellation allowed from any non-terminal phase.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseScheduled:
		return next == PhaseInProgress || next == PhaseCancelled
	case PhaseInProgress:
		return next == PhaseCompleted || next == PhaseCancelled
	default:
		return false
	}
}

// Role identifies a session participant's role
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Other returns the counterpart role
func (r Role) Other() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// JoinWindow is how long before the scheduled start participants may join
const JoinWindow = 15 * time.Minute

// Session represents a scheduled consultation between one doctor and one
// patient. The channel name is derived at creation and never changes.
type Session struct {
	SessionID      uuid.UUID  `json:"session_id" db:"session_id"`
	DoctorID       uuid.UUID  `json:"doctor_id" db:"doctor_id"`
	PatientID      uuid.UUID  `json:"patient_id" db:"patient_id"`
	ChannelName    string     `json:"channel_name" db:"channel_name"`
	Phase          Phase      `json:"phase" db:"phase"`
	DoctorJoined   bool       `json:"doctor_joined" db:"doctor_joined"`
	PatientJoined  bool       `json:"patient_joined" db:"patient_joined"`
	ScheduledAt    time.Time  `json:"scheduled_at" db:"scheduled_at"`
	PhaseStartedAt *time.Time `json:"phase_started_at,omitempty" db:"phase_started_at"`
	PhaseEndedAt   *time.Time `json:"phase_ended_at,omitempty" db:"phase_ended_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// RoleOf resolves the role a user holds in this session
func (s *Session) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case s.DoctorID:
		return RoleDoctor, true
	case s.PatientID:
		return RolePatient, true
	}
	return "", false
}

// ParticipantID returns the user id holding the given role
func (s *Session) ParticipantID(role Role) uuid.UUID {
	if role == RoleDoctor {
		return s.DoctorID
	}
	return s.PatientID
}

// Joined reports whether the participant with the given role has joined
func (s *Session) Joined(role Role) bool {
	if role == RoleDoctor {
		return s.DoctorJoined
	}
	return s.PatientJoined
}

// JoinWindowOpen reports whether joining is allowed at the given time.
// The boundary is inclusive: exactly JoinWindow before the scheduled
// start is already inside the window.
func (s *Session) JoinWindowOpen(at time.Time) bool {
	return !at.Before(s.ScheduledAt.Add(-JoinWindow))
}

// SessionState is the coordinator's projection of a session pushed to
// connected clients on every presence change
type SessionState struct {
	SessionID     uuid.UUID  `json:"session_id"`
	ChannelName   string     `json:"channel_name"`
	Phase         Phase      `json:"phase"`
	DoctorJoined  bool       `json:"doctor_joined"`
	PatientJoined bool       `json:"patient_joined"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	PhaseEndedAt  *time.Time `json:"phase_ended_at,omitempty"`
}

// State returns the client-facing projection of the session
func (s *Session) State() *SessionState {
	return &SessionState{
		SessionID:     s.SessionID,
		ChannelName:   s.ChannelName,
		Phase:         s.Phase,
		DoctorJoined:  s.DoctorJoined,
		PatientJoined: s.PatientJoined,
		ScheduledAt:   s.ScheduledAt,
		PhaseEndedAt:  s.PhaseEndedAt,
	}
}

// SessionCreate represents data needed to book a session
type SessionCreate struct {
	DoctorID    uuid.UUID `json:"doctor_id" binding:"required"`
	PatientID   uuid.UUID `json:"patient_id" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}
