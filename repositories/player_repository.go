package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/matchpoint-app/matchpoint/models"
)

var (
	ErrPlayerNotFound         = errors.New("player not found")
	ErrPlayerIdentityConflict = errors.New("player identity conflict: phone_or_email already in use")
)

// playerColumns is the canonical column list scanned by scanPlayer.
const playerColumns = `id, phone_or_email, name, email, phone, gender, address, ntrp_level, notification_preference, created_at, deleted_at, avatar_key`

// PlayerUpdate carries the profile fields a player is allowed to change.
// Nil means "leave unchanged". The identity key (phone_or_email) is immutable.
type PlayerUpdate struct {
	Name             *string
	Email            *string
	Phone            *string
	Gender           *string
	Address          *string
	NTRPLevel        *float64
	NotificationPref *models.NotificationPref
}

// EligibleFilter selects active players who should hear about a match:
// EmailMe preference, a usable email address, NTRP at or above MinNTRPLevel
// when set, not registered for ExcludeMatchID when set, and never the
// excluded player (the organizer).
type EligibleFilter struct {
	MinNTRPLevel    *float64
	ExcludeMatchID  *int
	ExcludePlayerID *int
}

type PlayerRepository interface {
	Create(ctx context.Context, p *models.Player) error
	GetByID(ctx context.Context, id int) (*models.Player, error)
	GetByPhoneOrEmail(ctx context.Context, phoneOrEmail string) (*models.Player, error)
	Update(ctx context.Context, id int, upd PlayerUpdate) (*models.Player, error)
	UpdateAvatarKey(ctx context.Context, id int, avatarKey *string) error
	SoftDelete(ctx context.Context, id int) error
	ListActive(ctx context.Context) ([]*models.Player, error)
	ListEligibleForMatch(ctx context.Context, filter EligibleFilter) ([]*models.Player, error)
}

type postgresPlayerRepository struct {
	db *sql.DB
}

func NewPostgresPlayerRepository(db *sql.DB) PlayerRepository {
	return &postgresPlayerRepository{db: db}
}

func scanPlayer(rowScanner interface {
	Scan(dest ...interface{}) error
}, p *models.Player) error {
	return rowScanner.Scan(
		&p.ID,
		&p.PhoneOrEmail,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.Gender,
		&p.Address,
		&p.NTRPLevel,
		&p.NotificationPref,
		&p.CreatedAt,
		&p.DeletedAt,
		&p.AvatarKey,
	)
}

func (r *postgresPlayerRepository) Create(ctx context.Context, p *models.Player) error {
	query := `
		INSERT INTO players (phone_or_email, name, email, phone, gender, address, ntrp_level, notification_preference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		p.PhoneOrEmail,
		p.Name,
		p.Email,
		p.Phone,
		p.Gender,
		p.Address,
		p.NTRPLevel,
		p.NotificationPref,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrPlayerIdentityConflict
		}
		return fmt.Errorf("failed to create player: %w", err)
	}
	return nil
}

func (r *postgresPlayerRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Player, error) {
	p := &models.Player{}
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := scanPlayer(row, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1 AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

func (r *postgresPlayerRepository) GetByPhoneOrEmail(ctx context.Context, phoneOrEmail string) (*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE phone_or_email = $1 AND deleted_at IS NULL`
	return r.findOne(ctx, query, phoneOrEmail)
}

func (r *postgresPlayerRepository) Update(ctx context.Context, id int, upd PlayerUpdate) (*models.Player, error) {
	sets := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	argCounter := 1

	addSet := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCounter))
		args = append(args, value)
		argCounter++
	}

	if upd.Name != nil {
		addSet("name", *upd.Name)
	}
	if upd.Email != nil {
		addSet("email", *upd.Email)
	}
	if upd.Phone != nil {
		addSet("phone", *upd.Phone)
	}
	if upd.Gender != nil {
		addSet("gender", *upd.Gender)
	}
	if upd.Address != nil {
		addSet("address", *upd.Address)
	}
	if upd.NTRPLevel != nil {
		addSet("ntrp_level", *upd.NTRPLevel)
	}
	if upd.NotificationPref != nil {
		addSet("notification_preference", *upd.NotificationPref)
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE players SET %s WHERE id = $%d AND deleted_at IS NULL RETURNING `+playerColumns,
		strings.Join(sets, ", "), argCounter,
	)

	p := &models.Player{}
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := scanPlayer(row, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrPlayerIdentityConflict
		}
		return nil, fmt.Errorf("failed to update player %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) UpdateAvatarKey(ctx context.Context, id int, avatarKey *string) error {
	query := `UPDATE players SET avatar_key = $1 WHERE id = $2 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, avatarKey, id)
	if err != nil {
		return fmt.Errorf("failed to update player avatar key: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) SoftDelete(ctx context.Context, id int) error {
	query := `UPDATE players SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete player: %w", err)
	}
	return checkAffectedRows(result, ErrPlayerNotFound)
}

func (r *postgresPlayerRepository) ListActive(ctx context.Context) ([]*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE deleted_at IS NULL ORDER BY name ASC`
	return r.queryPlayers(ctx, query)
}

func (r *postgresPlayerRepository) ListEligibleForMatch(ctx context.Context, filter EligibleFilter) ([]*models.Player, error) {
	var queryBuilder strings.Builder
	args := make([]interface{}, 0, 3)
	argCounter := 1

	queryBuilder.WriteString(`SELECT ` + playerColumns + `
		FROM players
		WHERE deleted_at IS NULL
		  AND notification_preference = '` + string(models.NotifyByEmail) + `'
		  AND email IS NOT NULL`)

	if filter.ExcludePlayerID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND id != $%d", argCounter))
		args = append(args, *filter.ExcludePlayerID)
		argCounter++
	}
	if filter.ExcludeMatchID != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND id NOT IN (SELECT player_id FROM match_registrations WHERE match_id = $%d)", argCounter))
		args = append(args, *filter.ExcludeMatchID)
		argCounter++
	}
	if filter.MinNTRPLevel != nil {
		queryBuilder.WriteString(fmt.Sprintf(" AND ntrp_level >= $%d", argCounter))
		args = append(args, *filter.MinNTRPLevel)
		argCounter++
	}
	queryBuilder.WriteString(" ORDER BY id ASC")

	return r.queryPlayers(ctx, queryBuilder.String(), args...)
}

func (r *postgresPlayerRepository) queryPlayers(ctx context.Context, query string, args ...interface{}) ([]*models.Player, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	players := make([]*models.Player, 0)
	for rows.Next() {
		var p models.Player
		if err := scanPlayer(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", err)
		}
		players = append(players, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating player rows: %w", err)
	}
	return players, nil
}
