package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cockroach"
	apperrors "healthbridge-backend/pkg/errors"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/metrics"
)

// SessionRepository is the session storage contract the coordinator mutates
type SessionRepository interface {
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	SetJoined(ctx context.Context, sessionID uuid.UUID, role domain.Role, joined bool) error
	TransitionPhase(ctx context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error)
	Terminate(ctx context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error)
}

// Publisher pushes state events onto the session's presence topic
type Publisher interface {
	Publish(ctx context.Context, topic string, ev *channel.Event) error
}

// Service is the presence and session-phase coordinator. All mutations
// for one session are serialized through a keyed mutex; different
// sessions proceed fully in parallel.
type Service struct {
	sessionRepo SessionRepository
	publisher   Publisher
	locks       *KeyedMutex

	now func() time.Time
}

// NewService creates a new presence coordinator
func NewService(sessionRepo SessionRepository, publisher Publisher) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		publisher:   publisher,
		locks:       NewKeyedMutex(),
		now:         time.Now,
	}
}

func (s *Service) load(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if err == cockroach.ErrNotFound {
			return nil, apperrors.NotFoundError("session")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return session, nil
}

// ReportJoin marks the participant as joined and, on the first join of a
// scheduled session, moves it to in_progress. Joining is gated by the
// join window: it opens JoinWindow before the scheduled start, boundary
// inclusive, and never closes until the session ends.
func (s *Service) ReportJoin(ctx context.Context, sessionID uuid.UUID, role domain.Role) (*domain.SessionState, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Phase.IsTerminal() {
		metrics.RecordPhaseRejected(string(session.Phase), string(domain.PhaseInProgress))
		return nil, apperrors.InvalidPhaseError("cannot join a " + string(session.Phase) + " session")
	}

	now := s.now().UTC()
	if !session.JoinWindowOpen(now) {
		metrics.RecordJoinOutOfWindow()
		return nil, apperrors.OutOfWindowError("join window has not opened yet")
	}

	if session.Phase == domain.PhaseScheduled {
		ok, err := s.sessionRepo.TransitionPhase(ctx, sessionID, domain.PhaseScheduled, domain.PhaseInProgress, now)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if ok {
			session.Phase = domain.PhaseInProgress
			session.PhaseStartedAt = &now
			metrics.RecordPhaseTransition(string(domain.PhaseScheduled), string(domain.PhaseInProgress))
			metrics.SessionsActive.Inc()
		} else {
			// Another instance won the transition; re-read for the truth
			session, err = s.load(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if session.Phase.IsTerminal() {
				return nil, apperrors.InvalidPhaseError("cannot join a " + string(session.Phase) + " session")
			}
		}
	}

	if err := s.sessionRepo.SetJoined(ctx, sessionID, role, true); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	setJoined(session, role, true)

	s.publishState(ctx, session)
	return session.State(), nil
}

// ReportLeave clears the participant's join flag. It never changes phase:
// one party dropping and returning must not toggle the session out of
// in_progress. Leaving a terminal session is a no-op.
func (s *Service) ReportLeave(ctx context.Context, sessionID uuid.UUID, role domain.Role) (*domain.SessionState, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Phase.IsTerminal() {
		return session.State(), nil
	}

	if err := s.sessionRepo.SetJoined(ctx, sessionID, role, false); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	setJoined(session, role, false)

	s.publishState(ctx, session)
	return session.State(), nil
}

// ReportEnd completes an in-progress session: stamps the end time and
// clears both join flags. Ending an already completed session is a
// no-op; a session that never went live cannot complete.
func (s *Service) ReportEnd(ctx context.Context, sessionID uuid.UUID) (*domain.SessionState, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Phase {
	case domain.PhaseCompleted:
		return session.State(), nil
	case domain.PhaseCancelled, domain.PhaseScheduled:
		metrics.RecordPhaseRejected(string(session.Phase), string(domain.PhaseCompleted))
		return nil, apperrors.InvalidPhaseError("cannot complete a " + string(session.Phase) + " session")
	}

	now := s.now().UTC()
	ok, err := s.sessionRepo.Terminate(ctx, sessionID, domain.PhaseInProgress, domain.PhaseCompleted, now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		// Lost a cross-instance race; surface whatever phase won
		return s.currentState(ctx, sessionID)
	}

	session.Phase = domain.PhaseCompleted
	session.PhaseEndedAt = &now
	session.DoctorJoined = false
	session.PatientJoined = false
	metrics.RecordPhaseTransition(string(domain.PhaseInProgress), string(domain.PhaseCompleted))
	metrics.SessionsActive.Dec()

	s.publishState(ctx, session)
	return session.State(), nil
}

// Cancel aborts a session that has not completed. Cancelling twice is a
// no-op; a completed session cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID) (*domain.SessionState, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Phase {
	case domain.PhaseCancelled:
		return session.State(), nil
	case domain.PhaseCompleted:
		metrics.RecordPhaseRejected(string(session.Phase), string(domain.PhaseCancelled))
		return nil, apperrors.InvalidPhaseError("cannot cancel a completed session")
	}

	from := session.Phase
	now := s.now().UTC()
	ok, err := s.sessionRepo.Terminate(ctx, sessionID, from, domain.PhaseCancelled, now)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return s.currentState(ctx, sessionID)
	}

	session.Phase = domain.PhaseCancelled
	session.PhaseEndedAt = &now
	session.DoctorJoined = false
	session.PatientJoined = false
	metrics.RecordPhaseTransition(string(from), string(domain.PhaseCancelled))
	if from == domain.PhaseInProgress {
		metrics.SessionsActive.Dec()
	}

	s.publishState(ctx, session)
	return session.State(), nil
}

func (s *Service) currentState(ctx context.Context, sessionID uuid.UUID) (*domain.SessionState, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.State(), nil
}

func (s *Service) publishState(ctx context.Context, session *domain.Session) {
	ev := &channel.Event{
		Kind:       channel.EventPhaseChange,
		SessionID:  session.SessionID,
		State:      session.State(),
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, channel.PresenceTopic(session.ChannelName), ev); err != nil {
		logger.Error("failed to publish session state",
			zap.String("session_id", session.SessionID.String()),
			zap.String("phase", string(session.Phase)),
			zap.Error(err))
	}
}

func setJoined(session *domain.Session, role domain.Role, joined bool) {
	if role == domain.RoleDoctor {
		session.DoctorJoined = joined
	} else {
		session.PatientJoined = joined
	}
}
