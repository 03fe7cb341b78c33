package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"healthbridge-backend/internal/channel"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/repository/cassandra"
	apperrors "healthbridge-backend/pkg/errors"
)

// Mocks

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Insert(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	if args.Error(0) == nil {
		// the store assigns id and timestamp at commit time
		message.MessageID = uuid.New()
		message.CreatedAt = time.Now().UTC()
	}
	return args.Error(0)
}

func (m *MockMessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) ListPage(ctx context.Context, sessionID uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	args := m.Called(ctx, sessionID, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]*domain.Message), args.Get(1).([]byte), args.Error(2)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, sessionID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, sessionID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, message *domain.Message, status domain.MessageStatus) error {
	args := m.Called(ctx, message, status)
	return args.Error(0)
}

func (m *MockMessageRepository) UpdateContent(ctx context.Context, message *domain.Message, content string, editedAt time.Time) error {
	args := m.Called(ctx, message, content, editedAt)
	return args.Error(0)
}

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, ev *channel.Event) error {
	args := m.Called(ctx, topic, ev)
	return args.Error(0)
}

// Helpers

func liveSession() *domain.Session {
	return &domain.Session{
		SessionID:   uuid.New(),
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ChannelName: "consult-" + uuid.NewString(),
		Phase:       domain.PhaseInProgress,
		ScheduledAt: time.Now().UTC().Add(-10 * time.Minute),
	}
}

func callerFor(session *domain.Session, role domain.Role) domain.Caller {
	return domain.Caller{
		UserID:    session.ParticipantID(role),
		Role:      role,
		ProfileID: uuid.New(),
	}
}

func textCreate(content string) *domain.MessageCreate {
	return &domain.MessageCreate{Content: content, Type: domain.MessageTypeText}
}

// Tests

func TestAppendHappyPath(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	publisher := new(MockPublisher)

	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("Insert", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
	publisher.On("Publish", mock.Anything, channel.MessageTopic(session.ChannelName), mock.MatchedBy(func(ev *channel.Event) bool {
		return ev.Kind == channel.EventMessageInsert && ev.Message != nil
	})).Return(nil)

	svc := NewService(messageRepo, sessionRepo, publisher, nil)

	message, err := svc.Append(context.Background(), patient, session.SessionID, textCreate("I have a headache"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, message.Status)
	assert.Equal(t, patient.UserID, message.SenderID)
	assert.NotEqual(t, uuid.Nil, message.MessageID)

	messageRepo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	session := liveSession()
	outsider := domain.Caller{UserID: uuid.New(), Role: domain.RolePatient}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	_, err := svc.Append(context.Background(), outsider, session.SessionID, textCreate("hi"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	// nothing persisted
	messageRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestAppendRejectsTerminalPhase(t *testing.T) {
	session := liveSession()
	session.Phase = domain.PhaseCompleted
	patient := callerFor(session, domain.RolePatient)

	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)

	svc := NewService(new(MockMessageRepository), sessionRepo, new(MockPublisher), nil)

	_, err := svc.Append(context.Background(), patient, session.SessionID, textCreate("too late"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidPhase))
}

func TestAppendRejectsEmptyText(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)

	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)

	svc := NewService(new(MockMessageRepository), sessionRepo, new(MockPublisher), nil)

	_, err := svc.Append(context.Background(), patient, session.SessionID, textCreate("   "))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidMessage))
}

func TestAppendRejectsDanglingReply(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)
	replyTo := uuid.New()

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, replyTo).Return(nil, cassandra.ErrNotFound)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	input := textCreate("re: your note")
	input.ReplyTo = &replyTo
	_, err := svc.Append(context.Background(), patient, session.SessionID, input)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidReference))
}

func TestAppendRejectsAttachmentMismatch(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)

	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)

	svc := NewService(new(MockMessageRepository), sessionRepo, new(MockPublisher), nil)
	ctx := context.Background()

	// attachment type without an attachment
	_, err := svc.Append(ctx, patient, session.SessionID, &domain.MessageCreate{
		Type: domain.MessageTypeImage,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidMessage))

	// text with an attachment
	_, err = svc.Append(ctx, patient, session.SessionID, &domain.MessageCreate{
		Content:    "look",
		Type:       domain.MessageTypeText,
		Attachment: &domain.Attachment{URL: "u", Name: "n", Size: 1},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidMessage))

	// attachment with missing fields
	_, err = svc.Append(ctx, patient, session.SessionID, &domain.MessageCreate{
		Type:       domain.MessageTypeFileAttachment,
		Attachment: &domain.Attachment{URL: "u"},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidMessage))
}

func TestAppendPublishFailureMarksMessageFailed(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	publisher := new(MockPublisher)

	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("transport down"))
	messageRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.MessageStatusFailed).Return(nil)

	svc := NewService(messageRepo, sessionRepo, publisher, nil)

	// stored message is still returned; status reflects the failed fan-out
	message, err := svc.Append(context.Background(), patient, session.SessionID, textCreate("hello"))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusFailed, message.Status)

	messageRepo.AssertCalled(t, "UpdateStatus", mock.Anything, mock.Anything, domain.MessageStatusFailed)
}

func TestMarkReadHappyPathPublishesUpdate(t *testing.T) {
	session := liveSession()
	doctor := callerFor(session, domain.RoleDoctor)
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  session.PatientID,
		Content:   "I have a headache",
		Type:      domain.MessageTypeText,
		Status:    domain.MessageStatusSent,
		CreatedAt: time.Now().UTC(),
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	publisher := new(MockPublisher)

	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)
	messageRepo.On("UpdateStatus", mock.Anything, stored, domain.MessageStatusRead).Return(nil)
	publisher.On("Publish", mock.Anything, channel.MessageTopic(session.ChannelName), mock.MatchedBy(func(ev *channel.Event) bool {
		return ev.Kind == channel.EventMessageUpdate && ev.Message.Status == domain.MessageStatusRead
	})).Return(nil)

	svc := NewService(messageRepo, sessionRepo, publisher, nil)

	message, err := svc.MarkRead(context.Background(), doctor, session.SessionID, stored.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, message.Status)
	publisher.AssertExpectations(t)
}

func TestMarkReadIdempotent(t *testing.T) {
	session := liveSession()
	doctor := callerFor(session, domain.RoleDoctor)
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  session.PatientID,
		Status:    domain.MessageStatusRead,
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	// second read is a no-op, not an error
	message, err := svc.MarkRead(context.Background(), doctor, session.SessionID, stored.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, message.Status)
	messageRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadOwnMessageRejected(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  patient.UserID,
		Status:    domain.MessageStatusSent,
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	_, err := svc.MarkRead(context.Background(), patient, session.SessionID, stored.MessageID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestMarkDeliveredSkipsOutOfOrder(t *testing.T) {
	session := liveSession()
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  session.PatientID,
		Status:    domain.MessageStatusRead,
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	// delivered after read must not regress the status
	message, err := svc.MarkDelivered(context.Background(), session.DoctorID, session.SessionID, stored.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, message.Status)
	messageRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMessageOnlySender(t *testing.T) {
	session := liveSession()
	doctor := callerFor(session, domain.RoleDoctor)
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  session.PatientID,
		Content:   "original",
		Type:      domain.MessageTypeText,
		Status:    domain.MessageStatusSent,
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)

	svc := NewService(messageRepo, sessionRepo, new(MockPublisher), nil)

	_, err := svc.EditMessage(context.Background(), doctor, session.SessionID, stored.MessageID, "changed")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestEditMessage(t *testing.T) {
	session := liveSession()
	patient := callerFor(session, domain.RolePatient)
	stored := &domain.Message{
		MessageID: uuid.New(),
		SessionID: session.SessionID,
		SenderID:  patient.UserID,
		Content:   "original",
		Type:      domain.MessageTypeText,
		Status:    domain.MessageStatusSent,
	}

	messageRepo := new(MockMessageRepository)
	sessionRepo := new(MockSessionRepository)
	publisher := new(MockPublisher)

	sessionRepo.On("GetByID", mock.Anything, session.SessionID).Return(session, nil)
	messageRepo.On("GetByID", mock.Anything, session.SessionID, stored.MessageID).Return(stored, nil)
	messageRepo.On("UpdateContent", mock.Anything, stored, "revised", mock.AnythingOfType("time.Time")).Return(nil)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(messageRepo, sessionRepo, publisher, nil)

	message, err := svc.EditMessage(context.Background(), patient, session.SessionID, stored.MessageID, "revised")
	require.NoError(t, err)
	assert.Equal(t, "revised", message.Content)
	assert.True(t, message.Edited)
	assert.NotNil(t, message.EditedAt)
}
