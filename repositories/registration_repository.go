package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/matchpoint-app/matchpoint/models"
)

var (
	ErrRegistrationNotFound     = errors.New("registration not found")
	ErrRegistrationConflict     = errors.New("registration conflict: player already registered for this match")
	ErrRegistrationMatchInvalid = errors.New("registration match or player conflict or invalid")
)

type RegistrationRepository interface {
	Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error
	FindByMatchAndPlayer(ctx context.Context, exec SQLExecutor, matchID, playerID int) (*models.Registration, error)
	CountRegistered(ctx context.Context, exec SQLExecutor, matchID int) (int, error)
	MaxWaitlistPosition(ctx context.Context, exec SQLExecutor, matchID int) (int, error)
	// ListByMatch returns registrations with nested player details:
	// registered first ordered by registration time, then waitlist by position.
	ListByMatch(ctx context.Context, matchID int) ([]*models.Registration, error)
	// DeleteByMatchAndPlayer removes the row and returns its pre-delete state.
	DeleteByMatchAndPlayer(ctx context.Context, exec SQLExecutor, matchID, playerID int) (*models.Registration, error)
	FirstOnWaitlist(ctx context.Context, exec SQLExecutor, matchID int) (*models.Registration, error)
	// Promote flips a waitlist row to registered and clears its position.
	Promote(ctx context.Context, exec SQLExecutor, registrationID int) error
	// CompactWaitlistAfter decrements every waitlist position greater than
	// the given one, keeping the 1..k sequence dense after a departure or
	// promotion.
	CompactWaitlistAfter(ctx context.Context, exec SQLExecutor, matchID, position int) error
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

func (r *postgresRegistrationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const registrationColumns = `id, match_id, player_id, registration_type, position_on_waitlist, registered_at`

func scanRegistration(rowScanner interface {
	Scan(dest ...interface{}) error
}, reg *models.Registration) error {
	return rowScanner.Scan(
		&reg.ID,
		&reg.MatchID,
		&reg.PlayerID,
		&reg.Type,
		&reg.WaitlistPosition,
		&reg.RegisteredAt,
	)
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO match_registrations (match_id, player_id, registration_type, position_on_waitlist)
		VALUES ($1, $2, $3, $4)
		RETURNING id, registered_at`

	err := executor.QueryRowContext(ctx, query,
		reg.MatchID,
		reg.PlayerID,
		reg.Type,
		reg.WaitlistPosition,
	).Scan(&reg.ID, &reg.RegisteredAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation on (match_id, player_id)
				return ErrRegistrationConflict
			case "23503": // foreign_key_violation
				return ErrRegistrationMatchInvalid
			}
		}
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (r *postgresRegistrationRepository) FindByMatchAndPlayer(ctx context.Context, exec SQLExecutor, matchID, playerID int) (*models.Registration, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + registrationColumns + ` FROM match_registrations WHERE match_id = $1 AND player_id = $2`

	reg := &models.Registration{}
	row := executor.QueryRowContext(ctx, query, matchID, playerID)
	if err := scanRegistration(row, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration: %w", err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) CountRegistered(ctx context.Context, exec SQLExecutor, matchID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `SELECT COUNT(*) FROM match_registrations WHERE match_id = $1 AND registration_type = 'registered'`

	var count int
	if err := executor.QueryRowContext(ctx, query, matchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count registered players: %w", err)
	}
	return count, nil
}

func (r *postgresRegistrationRepository) MaxWaitlistPosition(ctx context.Context, exec SQLExecutor, matchID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `SELECT COALESCE(MAX(position_on_waitlist), 0) FROM match_registrations WHERE match_id = $1 AND registration_type = 'waitlist'`

	var maxPos int
	if err := executor.QueryRowContext(ctx, query, matchID).Scan(&maxPos); err != nil {
		return 0, fmt.Errorf("failed to get max waitlist position: %w", err)
	}
	return maxPos, nil
}

func (r *postgresRegistrationRepository) ListByMatch(ctx context.Context, matchID int) ([]*models.Registration, error) {
	query := `
		SELECT mr.id, mr.match_id, mr.player_id, mr.registration_type, mr.position_on_waitlist, mr.registered_at,
		       p.id, p.phone_or_email, p.name, p.email, p.phone, p.gender, p.address, p.ntrp_level,
		       p.notification_preference, p.created_at, p.deleted_at, p.avatar_key
		FROM match_registrations mr
		JOIN players p ON mr.player_id = p.id
		WHERE mr.match_id = $1
		ORDER BY mr.registration_type ASC, mr.position_on_waitlist ASC NULLS FIRST, mr.registered_at ASC`

	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	registrations := make([]*models.Registration, 0)
	for rows.Next() {
		reg := &models.Registration{}
		var p models.Player
		err := rows.Scan(
			&reg.ID, &reg.MatchID, &reg.PlayerID, &reg.Type, &reg.WaitlistPosition, &reg.RegisteredAt,
			&p.ID, &p.PhoneOrEmail, &p.Name, &p.Email, &p.Phone, &p.Gender, &p.Address, &p.NTRPLevel,
			&p.NotificationPref, &p.CreatedAt, &p.DeletedAt, &p.AvatarKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		reg.Player = &p
		registrations = append(registrations, reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return registrations, nil
}

func (r *postgresRegistrationRepository) DeleteByMatchAndPlayer(ctx context.Context, exec SQLExecutor, matchID, playerID int) (*models.Registration, error) {
	executor := r.getExecutor(exec)
	query := `DELETE FROM match_registrations WHERE match_id = $1 AND player_id = $2 RETURNING ` + registrationColumns

	reg := &models.Registration{}
	row := executor.QueryRowContext(ctx, query, matchID, playerID)
	if err := scanRegistration(row, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to delete registration: %w", err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) FirstOnWaitlist(ctx context.Context, exec SQLExecutor, matchID int) (*models.Registration, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT ` + registrationColumns + `
		FROM match_registrations
		WHERE match_id = $1 AND registration_type = 'waitlist'
		ORDER BY position_on_waitlist ASC
		LIMIT 1`

	reg := &models.Registration{}
	row := executor.QueryRowContext(ctx, query, matchID)
	if err := scanRegistration(row, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find first waitlisted registration: %w", err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) Promote(ctx context.Context, exec SQLExecutor, registrationID int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE match_registrations SET registration_type = 'registered', position_on_waitlist = NULL WHERE id = $1`
	result, err := executor.ExecContext(ctx, query, registrationID)
	if err != nil {
		return fmt.Errorf("failed to promote registration %d: %w", registrationID, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) CompactWaitlistAfter(ctx context.Context, exec SQLExecutor, matchID, position int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE match_registrations SET position_on_waitlist = position_on_waitlist - 1 WHERE match_id = $1 AND registration_type = 'waitlist' AND position_on_waitlist > $2`
	if _, err := executor.ExecContext(ctx, query, matchID, position); err != nil {
		return fmt.Errorf("failed to compact waitlist positions for match %d: %w", matchID, err)
	}
	return nil
}
