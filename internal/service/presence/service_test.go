package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cockroach"
	apperrors "healthbridge-backend/pkg/errors"
)

// fakeSessionRepo is an in-memory session store with the same conditional
// update semantics as the relational repository
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newFakeSessionRepo(sessions ...*domain.Session) *fakeSessionRepo {
	repo := &fakeSessionRepo{sessions: make(map[uuid.UUID]*domain.Session)}
	for _, s := range sessions {
		copied := *s
		repo.sessions[s.SessionID] = &copied
	}
	return repo
}

func (r *fakeSessionRepo) GetByID(_ context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, cockroach.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) SetJoined(_ context.Context, sessionID uuid.UUID, role domain.Role, joined bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[sessionID]
	if role == domain.RoleDoctor {
		session.DoctorJoined = joined
	} else {
		session.PatientJoined = joined
	}
	return nil
}

func (r *fakeSessionRepo) TransitionPhase(_ context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[sessionID]
	if session.Phase != from {
		return false, nil
	}
	session.Phase = to
	session.PhaseStartedAt = &at
	return true, nil
}

func (r *fakeSessionRepo) Terminate(_ context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[sessionID]
	if session.Phase != from {
		return false, nil
	}
	session.Phase = to
	session.PhaseEndedAt = &at
	session.DoctorJoined = false
	session.PatientJoined = false
	return true, nil
}

// capturePublisher records every published event
type capturePublisher struct {
	mu     sync.Mutex
	events []*channel.Event
	topics []string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, ev *channel.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestSession(scheduledAt time.Time) *domain.Session {
	return &domain.Session{
		SessionID:   uuid.New(),
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ChannelName: "consult-" + uuid.NewString(),
		Phase:       domain.PhaseScheduled,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestService(repo SessionRepository, pub Publisher, now time.Time) *Service {
	svc := NewService(repo, pub)
	svc.now = func() time.Time { return now }
	return svc
}

func TestReportJoinOutsideWindow(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	session := newTestSession(scheduledAt)
	repo := newFakeSessionRepo(session)
	pub := &capturePublisher{}

	svc := newTestService(repo, pub, scheduledAt.Add(-16*time.Minute))

	_, err := svc.ReportJoin(context.Background(), session.SessionID, domain.RoleDoctor)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeOutOfWindow))
	assert.Equal(t, 0, pub.count())
}

func TestReportJoinWindowBoundaryInclusive(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	session := newTestSession(scheduledAt)
	repo := newFakeSessionRepo(session)

	svc := newTestService(repo, &capturePublisher{}, scheduledAt.Add(-15*time.Minute))

	state, err := svc.ReportJoin(context.Background(), session.SessionID, domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)
}

func TestReportJoinInsideWindow(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	session := newTestSession(scheduledAt)
	repo := newFakeSessionRepo(session)
	pub := &capturePublisher{}

	svc := newTestService(repo, pub, scheduledAt.Add(-14*time.Minute))

	state, err := svc.ReportJoin(context.Background(), session.SessionID, domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)
	assert.True(t, state.DoctorJoined)
	assert.False(t, state.PatientJoined)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, channel.EventPhaseChange, pub.events[0].Kind)
	assert.Equal(t, channel.PresenceTopic(session.ChannelName), pub.topics[0])
}

func TestSessionLifecycle(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	session := newTestSession(scheduledAt)
	repo := newFakeSessionRepo(session)
	pub := &capturePublisher{}
	ctx := context.Background()

	// T-20min: too early
	svc := newTestService(repo, pub, scheduledAt.Add(-20*time.Minute))
	_, err := svc.ReportJoin(ctx, session.SessionID, domain.RoleDoctor)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeOutOfWindow))

	// T-10min: doctor joins, session goes live
	svc.now = func() time.Time { return scheduledAt.Add(-10 * time.Minute) }
	state, err := svc.ReportJoin(ctx, session.SessionID, domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)
	assert.True(t, state.DoctorJoined)

	// T-5min: patient joins, phase unchanged
	svc.now = func() time.Time { return scheduledAt.Add(-5 * time.Minute) }
	state, err = svc.ReportJoin(ctx, session.SessionID, domain.RolePatient)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)
	assert.True(t, state.DoctorJoined)
	assert.True(t, state.PatientJoined)

	// doctor drops, session stays live
	state, err = svc.ReportLeave(ctx, session.SessionID, domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, state.Phase)
	assert.False(t, state.DoctorJoined)
	assert.True(t, state.PatientJoined)

	// consultation ends
	state, err = svc.ReportEnd(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, state.Phase)
	assert.False(t, state.DoctorJoined)
	assert.False(t, state.PatientJoined)
}

func TestReportJoinAfterTerminal(t *testing.T) {
	session := newTestSession(time.Now().UTC())
	session.Phase = domain.PhaseCancelled
	repo := newFakeSessionRepo(session)

	svc := newTestService(repo, &capturePublisher{}, time.Now().UTC())

	_, err := svc.ReportJoin(context.Background(), session.SessionID, domain.RolePatient)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPhase))
}

func TestReportLeaveOnTerminalIsNoOp(t *testing.T) {
	session := newTestSession(time.Now().UTC())
	session.Phase = domain.PhaseCompleted
	repo := newFakeSessionRepo(session)
	pub := &capturePublisher{}

	svc := newTestService(repo, pub, time.Now().UTC())

	state, err := svc.ReportLeave(context.Background(), session.SessionID, domain.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, state.Phase)
	assert.Equal(t, 0, pub.count())
}

func TestReportEndIdempotent(t *testing.T) {
	session := newTestSession(time.Now().UTC().Add(-time.Hour))
	session.Phase = domain.PhaseInProgress
	repo := newFakeSessionRepo(session)
	pub := &capturePublisher{}
	ctx := context.Background()

	svc := newTestService(repo, pub, time.Now().UTC())

	state, err := svc.ReportEnd(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, state.Phase)

	// second end is a no-op, not an error, and publishes nothing new
	published := pub.count()
	state, err = svc.ReportEnd(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, state.Phase)
	assert.Equal(t, published, pub.count())
}

func TestReportEndBeforeStartRejected(t *testing.T) {
	session := newTestSession(time.Now().UTC().Add(time.Hour))
	repo := newFakeSessionRepo(session)

	svc := newTestService(repo, &capturePublisher{}, time.Now().UTC())

	_, err := svc.ReportEnd(context.Background(), session.SessionID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPhase))
}

func TestCancel(t *testing.T) {
	session := newTestSession(time.Now().UTC().Add(time.Hour))
	repo := newFakeSessionRepo(session)
	ctx := context.Background()

	svc := newTestService(repo, &capturePublisher{}, time.Now().UTC())

	state, err := svc.Cancel(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, state.Phase)

	// cancelling twice is a no-op
	state, err = svc.Cancel(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, state.Phase)
}

func TestCancelCompletedRejected(t *testing.T) {
	session := newTestSession(time.Now().UTC().Add(-time.Hour))
	session.Phase = domain.PhaseCompleted
	repo := newFakeSessionRepo(session)

	svc := newTestService(repo, &capturePublisher{}, time.Now().UTC())

	_, err := svc.Cancel(context.Background(), session.SessionID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPhase))
}

func TestPhaseMonotonicUnderConcurrentJoins(t *testing.T) {
	scheduledAt := time.Now().UTC()
	session := newTestSession(scheduledAt)
	repo := newFakeSessionRepo(session)

	svc := newTestService(repo, &capturePublisher{}, scheduledAt)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		role := domain.RoleDoctor
		if i%2 == 1 {
			role = domain.RolePatient
		}
		wg.Add(1)
		go func(r domain.Role) {
			defer wg.Done()
			state, err := svc.ReportJoin(ctx, session.SessionID, r)
			assert.NoError(t, err)
			assert.Equal(t, domain.PhaseInProgress, state.Phase)
		}(role)
	}
	wg.Wait()

	final, err := repo.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseInProgress, final.Phase)
	assert.True(t, final.DoctorJoined)
	assert.True(t, final.PatientJoined)
}

func TestReportJoinUnknownSession(t *testing.T) {
	svc := newTestService(newFakeSessionRepo(), &capturePublisher{}, time.Now().UTC())

	_, err := svc.ReportJoin(context.Background(), uuid.New(), domain.RoleDoctor)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}
