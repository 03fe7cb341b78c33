package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"healthbridge-backend/internal/database"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/pkg/metrics"
)

const tableMessages = "consult_messages"

// ErrNotFound is returned when a message does not exist
var ErrNotFound = gocql.ErrNotFound

// MessageRepository is the append-only consultation message log in Cassandra.
// The table is clustered by (created_at, message_id) ascending so a full
// partition read comes back in chronological order, ties broken by id.
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

// track records query duration and outcome for one operation
func track(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordCassandraQueryDuration(operation, tableMessages, time.Since(start).Seconds())
		metrics.RecordCassandraQuery(operation, tableMessages, status)
	}
}

// Insert appends a new message. The repository assigns the message id and
// creation timestamp so ordering is decided at the storage layer, not by
// the caller. created_at is truncated to milliseconds to match Cassandra
// timestamp precision; GetByID relies on re-deriving it from the id.
func (r *MessageRepository) Insert(ctx context.Context, message *domain.Message) (err error) {
	done := track("insert")
	defer func() { done(err) }()

	timeID := gocql.TimeUUID()
	message.MessageID = uuid.UUID(timeID)
	message.CreatedAt = timeID.Time().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO consult_messages (
			session_id, created_at, message_id, sender_id, content,
			message_type, status, attachment_url, attachment_name, attachment_size,
			edited, edited_at, reply_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var attURL, attName string
	var attSize int64
	if message.Attachment != nil {
		attURL = message.Attachment.URL
		attName = message.Attachment.Name
		attSize = message.Attachment.Size
	}

	var replyTo uuid.UUID
	if message.ReplyTo != nil {
		replyTo = *message.ReplyTo
	}

	err = r.db.QueryWithContext(ctx, query,
		message.SessionID,
		message.CreatedAt,
		message.MessageID,
		message.SenderID,
		message.Content,
		string(message.Type),
		string(message.Status),
		attURL,
		attName,
		attSize,
		message.Edited,
		message.EditedAt,
		replyTo,
	).Exec()

	if err != nil {
		metrics.RecordCassandraQueryError("insert", tableMessages, "write")
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

const messageColumns = `session_id, created_at, message_id, sender_id, content,
	       message_type, status, attachment_url, attachment_name, attachment_size,
	       edited, edited_at, reply_to`

// ListBySession retrieves the full message log for a session in
// chronological order
func (r *MessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) (messages []*domain.Message, err error) {
	done := track("list")
	defer func() { done(err) }()

	query := fmt.Sprintf(`SELECT %s FROM consult_messages WHERE session_id = ?`, messageColumns)

	iter := r.db.QueryWithContext(ctx, query, sessionID).Iter()
	for {
		message, ok := scanMessage(iter)
		if !ok {
			break
		}
		messages = append(messages, message)
	}

	if err = iter.Close(); err != nil {
		metrics.RecordCassandraQueryError("list", tableMessages, "read")
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// ListPage retrieves one page of the message log using cursor-based
// pagination. The returned page state is opaque to callers.
func (r *MessageRepository) ListPage(ctx context.Context, sessionID uuid.UUID, limit int, pageState []byte) (messages []*domain.Message, nextPageState []byte, err error) {
	done := track("list_page")
	defer func() { done(err) }()

	query := fmt.Sprintf(`SELECT %s FROM consult_messages WHERE session_id = ?`, messageColumns)

	iter := r.db.QueryWithContext(ctx, query, sessionID).PageSize(limit).PageState(pageState).Iter()
	for i := 0; i < limit; i++ {
		message, ok := scanMessage(iter)
		if !ok {
			break
		}
		messages = append(messages, message)
	}

	nextPageState = iter.PageState()
	if err = iter.Close(); err != nil {
		metrics.RecordCassandraQueryError("list_page", tableMessages, "read")
		return nil, nil, fmt.Errorf("failed to fetch message page: %w", err)
	}
	return messages, nextPageState, nil
}

// GetByID retrieves a single message. The clustering key is derived from
// the TIMEUUID embedded in the message id, so no separate lookup table
// is needed.
func (r *MessageRepository) GetByID(ctx context.Context, sessionID, messageID uuid.UUID) (message *domain.Message, err error) {
	done := track("get")
	defer func() { done(err) }()

	createdAt := gocql.UUID(messageID).Time().UTC().Truncate(time.Millisecond)

	query := fmt.Sprintf(`
		SELECT %s FROM consult_messages
		WHERE session_id = ? AND created_at = ? AND message_id = ?
		LIMIT 1
	`, messageColumns)

	iter := r.db.QueryWithContext(ctx, query, sessionID, createdAt, messageID).Iter()
	message, ok := scanMessage(iter)
	if err = iter.Close(); err != nil {
		metrics.RecordCassandraQueryError("get", tableMessages, "read")
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return message, nil
}

// UpdateStatus overwrites the message status
func (r *MessageRepository) UpdateStatus(ctx context.Context, message *domain.Message, status domain.MessageStatus) (err error) {
	done := track("update_status")
	defer func() { done(err) }()

	query := `
		UPDATE consult_messages SET status = ?
		WHERE session_id = ? AND created_at = ? AND message_id = ?
	`

	err = r.db.ExecWithContext(ctx, query,
		string(status), message.SessionID, message.CreatedAt, message.MessageID)
	if err != nil {
		metrics.RecordCassandraQueryError("update_status", tableMessages, "write")
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// UpdateContent overwrites the message content and stamps the edit marker
func (r *MessageRepository) UpdateContent(ctx context.Context, message *domain.Message, content string, editedAt time.Time) (err error) {
	done := track("update_content")
	defer func() { done(err) }()

	query := `
		UPDATE consult_messages SET content = ?, edited = true, edited_at = ?
		WHERE session_id = ? AND created_at = ? AND message_id = ?
	`

	err = r.db.ExecWithContext(ctx, query,
		content, editedAt, message.SessionID, message.CreatedAt, message.MessageID)
	if err != nil {
		metrics.RecordCassandraQueryError("update_content", tableMessages, "write")
		return fmt.Errorf("failed to update message content: %w", err)
	}
	return nil
}

// scanMessage reads one row off the iterator
func scanMessage(iter *gocql.Iter) (*domain.Message, bool) {
	var (
		message  domain.Message
		msgType  string
		status   string
		attURL   string
		attName  string
		attSize  int64
		editedAt time.Time
		replyTo  uuid.UUID
	)

	if !iter.Scan(
		&message.SessionID,
		&message.CreatedAt,
		&message.MessageID,
		&message.SenderID,
		&message.Content,
		&msgType,
		&status,
		&attURL,
		&attName,
		&attSize,
		&message.Edited,
		&editedAt,
		&replyTo,
	) {
		return nil, false
	}

	message.Type = domain.MessageType(msgType)
	message.Status = domain.MessageStatus(status)
	message.CreatedAt = message.CreatedAt.UTC()
	if attURL != "" {
		message.Attachment = &domain.Attachment{URL: attURL, Name: attName, Size: attSize}
	}
	if message.Edited && !editedAt.IsZero() {
		t := editedAt.UTC()
		message.EditedAt = &t
	}
	if replyTo != uuid.Nil {
		r := replyTo
		message.ReplyTo = &r
	}
	return &message, true
}
