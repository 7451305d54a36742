package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/matchpoint-app/matchpoint/models"
)

var (
	ErrMatchNotFound         = errors.New("match not found")
	ErrMatchOrganizerInvalid = errors.New("match organizer conflict or invalid")
)

// ReminderWindow identifies which one-shot reminder flag a scheduler pass owns.
type ReminderWindow int

const (
	ReminderWindow24h ReminderWindow = 24
	ReminderWindow1h  ReminderWindow = 1
)

func (w ReminderWindow) flagColumn() (string, error) {
	switch w {
	case ReminderWindow24h:
		return "reminder_24h_sent", nil
	case ReminderWindow1h:
		return "reminder_1h_sent", nil
	default:
		return "", fmt.Errorf("unknown reminder window: %d", int(w))
	}
}

// Duration returns the look-ahead covered by the window.
func (w ReminderWindow) Duration() time.Duration {
	return time.Duration(w) * time.Hour
}

// MatchFilter narrows List results. All fields are optional.
type MatchFilter struct {
	From     *time.Time
	To       *time.Time
	PlayerID *int
}

type MatchRepository interface {
	// Create inserts a match through exec so it can share a transaction with
	// the organizer's registration.
	Create(ctx context.Context, exec SQLExecutor, m *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	// GetByIDForUpdate locks the match row (SELECT ... FOR UPDATE) inside the
	// caller's transaction. Every join/leave decision for the match happens
	// under this lock.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	List(ctx context.Context, filter MatchFilter) ([]*models.Match, error)
	ListForPlayer(ctx context.Context, playerID int) ([]*models.MatchParticipation, error)
	// CancelByOrganizer flips scheduled -> cancelled only when the requester
	// owns the match and it is still scheduled; otherwise ErrMatchNotFound.
	CancelByOrganizer(ctx context.Context, matchID, organizerID int) (*models.Match, error)
	ListDueReminder(ctx context.Context, window ReminderWindow, now time.Time) ([]*models.Match, error)
	ListUnfilledCandidates(ctx context.Context, lookahead time.Duration, now time.Time) ([]*models.Match, error)
	MarkReminderSent(ctx context.Context, matchID int, window ReminderWindow) error
	MarkUnfilledSent(ctx context.Context, matchID int) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `id, organizer_id, court_address, start_time, end_time, min_ntrp_level, max_players, status, reminder_24h_sent, reminder_1h_sent, unfilled_3day_sent, cancelled_at, created_at`

func scanMatch(rowScanner interface {
	Scan(dest ...interface{}) error
}, m *models.Match, extra ...interface{}) error {
	dest := []interface{}{
		&m.ID,
		&m.OrganizerID,
		&m.CourtAddress,
		&m.StartTime,
		&m.EndTime,
		&m.MinNTRPLevel,
		&m.MaxPlayers,
		&m.Status,
		&m.Reminder24hSent,
		&m.Reminder1hSent,
		&m.Unfilled3DaySent,
		&m.CancelledAt,
		&m.CreatedAt,
	}
	dest = append(dest, extra...)
	return rowScanner.Scan(dest...)
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO matches (organizer_id, court_address, start_time, end_time, min_ntrp_level, max_players)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at`

	err := executor.QueryRowContext(ctx, query,
		m.OrganizerID,
		m.CourtAddress,
		m.StartTime,
		m.EndTime,
		m.MinNTRPLevel,
		m.MaxPlayers,
	).Scan(&m.ID, &m.Status, &m.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrMatchOrganizerInvalid
		}
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `
		SELECT m.id, m.organizer_id, m.court_address, m.start_time, m.end_time, m.min_ntrp_level,
		       m.max_players, m.status, m.reminder_24h_sent, m.reminder_1h_sent, m.unfilled_3day_sent,
		       m.cancelled_at, m.created_at, p.name,
		       (SELECT COUNT(*) FROM match_registrations mr WHERE mr.match_id = m.id AND mr.registration_type = 'registered')
		FROM matches m
		JOIN players p ON m.organizer_id = p.id
		WHERE m.id = $1`

	m := &models.Match{}
	var organizerName string
	row := r.db.QueryRowContext(ctx, query, id)
	if err := scanMatch(row, m, &organizerName, &m.RegisteredCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	m.OrganizerName = &organizerName
	return m, nil
}

func (r *postgresMatchRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1 FOR UPDATE`

	m := &models.Match{}
	row := executor.QueryRowContext(ctx, query, id)
	if err := scanMatch(row, m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to lock match row: %w", err)
	}
	return m, nil
}

func (r *postgresMatchRepository) List(ctx context.Context, filter MatchFilter) ([]*models.Match, error) {
	var queryBuilder strings.Builder
	args := make([]interface{}, 0, 3)
	argCounter := 1

	queryBuilder.WriteString(`
		SELECT m.id, m.organizer_id, m.court_address, m.start_time, m.end_time, m.min_ntrp_level,
		       m.max_players, m.status, m.reminder_24h_sent, m.reminder_1h_sent, m.unfilled_3day_sent,
		       m.cancelled_at, m.created_at, p.name,
		       (SELECT COUNT(*) FROM match_registrations mr WHERE mr.match_id = m.id AND mr.registration_type = 'registered')
		FROM matches m
		JOIN players p ON m.organizer_id = p.id
		WHERE m.status = 'scheduled'`)

	if filter.From != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND m.start_time >= $%d", argCounter))
		args = append(args, *filter.From)
		argCounter++
	}
	if filter.To != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND m.start_time <= $%d", argCounter))
		args = append(args, *filter.To)
		argCounter++
	}
	if filter.PlayerID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND EXISTS (SELECT 1 FROM match_registrations mr WHERE mr.match_id = m.id AND mr.player_id = $%d)", argCounter))
		args = append(args, *filter.PlayerID)
		argCounter++
	}
	queryBuilder.WriteString(" ORDER BY m.start_time ASC")

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m := &models.Match{}
		var organizerName string
		if err := scanMatch(rows, m, &organizerName, &m.RegisteredCount); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		m.OrganizerName = &organizerName
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) ListForPlayer(ctx context.Context, playerID int) ([]*models.MatchParticipation, error) {
	query := `
		SELECT m.id, m.organizer_id, m.court_address, m.start_time, m.end_time, m.min_ntrp_level,
		       m.max_players, m.status, m.reminder_24h_sent, m.reminder_1h_sent, m.unfilled_3day_sent,
		       m.cancelled_at, m.created_at, p.name,
		       (SELECT COUNT(*) FROM match_registrations r2 WHERE r2.match_id = m.id AND r2.registration_type = 'registered'),
		       mr.registration_type, mr.position_on_waitlist
		FROM match_registrations mr
		JOIN matches m ON mr.match_id = m.id
		JOIN players p ON m.organizer_id = p.id
		WHERE mr.player_id = $1 AND m.status = 'scheduled'
		ORDER BY m.start_time ASC`

	rows, err := r.db.QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for player: %w", err)
	}
	defer rows.Close()

	participations := make([]*models.MatchParticipation, 0)
	for rows.Next() {
		mp := &models.MatchParticipation{}
		var organizerName string
		if err := scanMatch(rows, &mp.Match, &organizerName, &mp.Match.RegisteredCount, &mp.RegistrationType, &mp.WaitlistPosition); err != nil {
			return nil, fmt.Errorf("failed to scan player match row: %w", err)
		}
		mp.Match.OrganizerName = &organizerName
		participations = append(participations, mp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating player match rows: %w", err)
	}
	return participations, nil
}

func (r *postgresMatchRepository) CancelByOrganizer(ctx context.Context, matchID, organizerID int) (*models.Match, error) {
	// A single conditional UPDATE: "wrong organizer" and "already cancelled"
	// are indistinguishable from "no such match" so ownership never leaks.
	query := `
		UPDATE matches SET status = 'cancelled', cancelled_at = NOW()
		WHERE id = $1 AND organizer_id = $2 AND status = 'scheduled'
		RETURNING ` + matchColumns

	m := &models.Match{}
	row := r.db.QueryRowContext(ctx, query, matchID, organizerID)
	if err := scanMatch(row, m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to cancel match: %w", err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListDueReminder(ctx context.Context, window ReminderWindow, now time.Time) ([]*models.Match, error) {
	flagCol, err := window.flagColumn()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.organizer_id, m.court_address, m.start_time, m.end_time, m.min_ntrp_level,
		       m.max_players, m.status, m.reminder_24h_sent, m.reminder_1h_sent, m.unfilled_3day_sent,
		       m.cancelled_at, m.created_at, p.name,
		       (SELECT COUNT(*) FROM match_registrations mr WHERE mr.match_id = m.id AND mr.registration_type = 'registered')
		FROM matches m
		JOIN players p ON m.organizer_id = p.id
		WHERE m.status = 'scheduled'
		  AND m.%s = false
		  AND m.start_time > $1
		  AND m.start_time <= $2`, flagCol)

	return r.queryMatchesWithOrganizer(ctx, query, now, now.Add(window.Duration()))
}

func (r *postgresMatchRepository) ListUnfilledCandidates(ctx context.Context, lookahead time.Duration, now time.Time) ([]*models.Match, error) {
	query := `
		SELECT m.id, m.organizer_id, m.court_address, m.start_time, m.end_time, m.min_ntrp_level,
		       m.max_players, m.status, m.reminder_24h_sent, m.reminder_1h_sent, m.unfilled_3day_sent,
		       m.cancelled_at, m.created_at, p.name,
		       (SELECT COUNT(*) FROM match_registrations mr WHERE mr.match_id = m.id AND mr.registration_type = 'registered')
		FROM matches m
		JOIN players p ON m.organizer_id = p.id
		WHERE m.status = 'scheduled'
		  AND m.unfilled_3day_sent = false
		  AND m.start_time > $1
		  AND m.start_time <= $2`

	return r.queryMatchesWithOrganizer(ctx, query, now, now.Add(lookahead))
}

func (r *postgresMatchRepository) queryMatchesWithOrganizer(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m := &models.Match{}
		var organizerName string
		if err := scanMatch(rows, m, &organizerName, &m.RegisteredCount); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		m.OrganizerName = &organizerName
		matches = append(matches, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) MarkReminderSent(ctx context.Context, matchID int, window ReminderWindow) error {
	flagCol, err := window.flagColumn()
	if err != nil {
		return err
	}
	// Idempotent by design: the flag only ever moves false -> true.
	query := fmt.Sprintf(`UPDATE matches SET %s = true WHERE id = $1`, flagCol)
	result, err := r.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return fmt.Errorf("failed to mark %s for match %d: %w", flagCol, matchID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) MarkUnfilledSent(ctx context.Context, matchID int) error {
	query := `UPDATE matches SET unfilled_3day_sent = true WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return fmt.Errorf("failed to mark unfilled_3day_sent for match %d: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}
