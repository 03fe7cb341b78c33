package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthbridge-backend/internal/domain"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = pgx.ErrNoRows

// SessionRepository handles consultation session records
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new consultation session
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO consult_sessions (
			session_id, doctor_id, patient_id, channel_name, phase,
			doctor_joined, patient_joined, scheduled_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		session.SessionID,
		session.DoctorID,
		session.PatientID,
		session.ChannelName,
		string(session.Phase),
		session.DoctorJoined,
		session.PatientJoined,
		session.ScheduledAt,
		session.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, doctor_id, patient_id, channel_name, phase,
		       doctor_joined, patient_joined, scheduled_at,
		       phase_started_at, phase_ended_at, created_at`

// GetByID retrieves a session by its id
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM consult_sessions WHERE session_id = $1`, sessionColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, sessionID))
}

// GetByChannelName retrieves a session by its channel name
func (r *SessionRepository) GetByChannelName(ctx context.Context, channelName string) (*domain.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM consult_sessions WHERE channel_name = $1`, sessionColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, channelName))
}

// SetJoined updates the join flag for one participant role
func (r *SessionRepository) SetJoined(ctx context.Context, sessionID uuid.UUID, role domain.Role, joined bool) error {
	column := "patient_joined"
	if role == domain.RoleDoctor {
		column = "doctor_joined"
	}

	query := fmt.Sprintf(`UPDATE consult_sessions SET %s = $2 WHERE session_id = $1`, column)
	_, err := r.pool.Exec(ctx, query, sessionID, joined)
	if err != nil {
		return fmt.Errorf("failed to update join flag: %w", err)
	}
	return nil
}

// TransitionPhase moves the session phase conditionally. The WHERE clause
// guards against lost updates when two coordinators race: the transition
// only applies while the stored phase still matches from. Returns false
// when the row was not in the expected phase.
func (r *SessionRepository) TransitionPhase(ctx context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error) {
	query := `
		UPDATE consult_sessions
		SET phase = $3, phase_started_at = $4
		WHERE session_id = $1 AND phase = $2
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("failed to transition phase: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Terminate moves the session into a terminal phase, stamps the end time
// and clears both join flags. Conditional on the current phase like
// TransitionPhase.
func (r *SessionRepository) Terminate(ctx context.Context, sessionID uuid.UUID, from, to domain.Phase, at time.Time) (bool, error) {
	query := `
		UPDATE consult_sessions
		SET phase = $3, phase_ended_at = $4,
		    doctor_joined = false, patient_joined = false
		WHERE session_id = $1 AND phase = $2
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByParticipant retrieves sessions where the user is the doctor or the
// patient, most recently scheduled first
func (r *SessionRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM consult_sessions
		WHERE doctor_id = $1 OR patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, sessionColumns)

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SessionRepository) scanOne(row rowScanner) (*domain.Session, error) {
	var (
		session domain.Session
		phase   string
	)

	err := row.Scan(
		&session.SessionID,
		&session.DoctorID,
		&session.PatientID,
		&session.ChannelName,
		&phase,
		&session.DoctorJoined,
		&session.PatientJoined,
		&session.ScheduledAt,
		&session.PhaseStartedAt,
		&session.PhaseEndedAt,
		&session.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Phase = domain.Phase(phase)
	return &session, nil
}
