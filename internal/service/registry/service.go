package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cockroach"
	apperrors "healthbridge-backend/pkg/errors"
)

// SessionRepository is the session storage contract the registry needs
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	GetByChannelName(ctx context.Context, channelName string) (*domain.Session, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Session, error)
}

// UserRepository verifies participants exist with the right role
type UserRepository interface {
	ExistsWithRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error)
}

// Service books consultation sessions and resolves them for callers
type Service struct {
	sessionRepo SessionRepository
	userRepo    UserRepository

	now func() time.Time
}

// NewService creates a new session registry service
func NewService(sessionRepo SessionRepository, userRepo UserRepository) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		now:         time.Now,
	}
}

// Create books a new consultation session between a doctor and a patient.
// The session starts in the scheduled phase with a channel name derived
// from a fresh id, so realtime topics never collide across sessions.
func (s *Service) Create(ctx context.Context, create *domain.SessionCreate) (*domain.Session, error) {
	if create.DoctorID == create.PatientID {
		return nil, apperrors.ValidationError("doctor and patient must be different users")
	}
	if create.ScheduledAt.IsZero() {
		return nil, apperrors.ValidationError("scheduled_at is required")
	}

	ok, err := s.userRepo.ExistsWithRole(ctx, create.DoctorID, domain.RoleDoctor)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.ValidationError("doctor does not exist or does not hold the doctor role")
	}

	ok, err = s.userRepo.ExistsWithRole(ctx, create.PatientID, domain.RolePatient)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.ValidationError("patient does not exist or does not hold the patient role")
	}

	sessionID := uuid.New()
	session := &domain.Session{
		SessionID:   sessionID,
		DoctorID:    create.DoctorID,
		PatientID:   create.PatientID,
		ChannelName: "consult-" + sessionID.String(),
		Phase:       domain.PhaseScheduled,
		ScheduledAt: create.ScheduledAt.UTC(),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return session, nil
}

// GetSession resolves a session for one of its participants and reports
// which role the caller plays in it
func (s *Service) GetSession(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.Session, domain.Role, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, "", apperrors.NotFoundError("session")
		}
		return nil, "", apperrors.DatabaseError(err)
	}

	role, ok := session.RoleOf(callerID)
	if !ok {
		return nil, "", apperrors.UnauthorizedError("caller is not a participant of this session")
	}
	return session, role, nil
}

// GetState returns the live state projection of a session for a participant
func (s *Service) GetState(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.SessionState, error) {
	session, _, err := s.GetSession(ctx, callerID, sessionID)
	if err != nil {
		return nil, err
	}
	return session.State(), nil
}

// GetByChannelName resolves a session by its realtime channel name. Used
// by the conference bridge webhook, which only knows channel names.
func (s *Service) GetByChannelName(ctx context.Context, channelName string) (*domain.Session, error) {
	if channelName == "" {
		return nil, apperrors.ValidationError("channel name is required")
	}

	session, err := s.sessionRepo.GetByChannelName(ctx, channelName)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, apperrors.NotFoundError("session")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return session, nil
}

// ListForCaller returns the caller's sessions, most recently scheduled first
func (s *Service) ListForCaller(ctx context.Context, callerID uuid.UUID, limit int) ([]*domain.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	sessions, err := s.sessionRepo.ListByParticipant(ctx, callerID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return sessions, nil
}
