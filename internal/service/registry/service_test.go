package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cockroach"
	apperrors "healthbridge-backend/pkg/errors"
)

type fakeSessionRepo struct {
	sessions map[uuid.UUID]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *domain.Session) error {
	r.sessions[session.SessionID] = session
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, cockroach.ErrNotFound
	}
	return session, nil
}

func (r *fakeSessionRepo) GetByChannelName(ctx context.Context, channelName string) (*domain.Session, error) {
	for _, session := range r.sessions {
		if session.ChannelName == channelName {
			return session, nil
		}
	}
	return nil, cockroach.ErrNotFound
}

func (r *fakeSessionRepo) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, session := range r.sessions {
		if session.DoctorID == userID || session.PatientID == userID {
			out = append(out, session)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// fakeUserRepo knows a fixed set of user/role pairs
type fakeUserRepo struct {
	roles map[uuid.UUID]domain.Role
}

func (r *fakeUserRepo) ExistsWithRole(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error) {
	have, ok := r.roles[userID]
	return ok && have == role, nil
}

func newTestService() (*Service, *fakeSessionRepo, uuid.UUID, uuid.UUID) {
	doctorID, patientID := uuid.New(), uuid.New()
	sessionRepo := newFakeSessionRepo()
	userRepo := &fakeUserRepo{roles: map[uuid.UUID]domain.Role{
		doctorID:  domain.RoleDoctor,
		patientID: domain.RolePatient,
	}}
	return NewService(sessionRepo, userRepo), sessionRepo, doctorID, patientID
}

func TestCreateSession(t *testing.T) {
	svc, repo, doctorID, patientID := newTestService()

	scheduled := time.Now().Add(24 * time.Hour)
	session, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: scheduled,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PhaseScheduled, session.Phase)
	assert.True(t, strings.HasPrefix(session.ChannelName, "consult-"))
	assert.Equal(t, scheduled.UTC(), session.ScheduledAt)
	assert.Contains(t, repo.sessions, session.SessionID)
}

func TestCreateChannelNamesAreUnique(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()
	create := &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	}

	a, err := svc.Create(context.Background(), create)
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), create)
	require.NoError(t, err)

	assert.NotEqual(t, a.ChannelName, b.ChannelName)
}

func TestCreateRejectsSameParticipant(t *testing.T) {
	svc, _, doctorID, _ := newTestService()

	_, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   doctorID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestCreateRejectsMissingSchedule(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()

	_, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:  doctorID,
		PatientID: patientID,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestCreateRejectsWrongRole(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()

	// roles swapped
	_, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    patientID,
		PatientID:   doctorID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	// unknown user
	_, err = svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   uuid.New(),
		ScheduledAt: time.Now().Add(time.Hour),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestGetSessionResolvesRole(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()
	session, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, role, err := svc.GetSession(context.Background(), doctorID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDoctor, role)

	_, role, err = svc.GetSession(context.Background(), patientID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePatient, role)
}

func TestGetSessionRejectsOutsider(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()
	session, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, _, err = svc.GetSession(context.Background(), uuid.New(), session.SessionID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestGetSessionUnknownID(t *testing.T) {
	svc, _, doctorID, _ := newTestService()

	_, _, err := svc.GetSession(context.Background(), doctorID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestGetByChannelName(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()
	session, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := svc.GetByChannelName(context.Background(), session.ChannelName)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, got.SessionID)

	_, err = svc.GetByChannelName(context.Background(), "consult-nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	_, err = svc.GetByChannelName(context.Background(), "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestGetState(t *testing.T) {
	svc, _, doctorID, patientID := newTestService()
	session, err := svc.Create(context.Background(), &domain.SessionCreate{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	state, err := svc.GetState(context.Background(), patientID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScheduled, state.Phase)
	assert.False(t, state.DoctorJoined)
	assert.False(t, state.PatientJoined)
}
