package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/repositories"
	"github.com/matchpoint-app/matchpoint/storage"
	"golang.org/x/sync/errgroup"
)

// Бизнес-константы вместимости матча. Значения захардкожены продуктом:
// четыре игрока на корте, не больше трёх в листе ожидания.
const (
	DefaultMatchCapacity = 4
	WaitlistLimit        = 3
)

// matchNotifier — события, которые движок матчей запускает после фиксации
// транзакции. Реализация обязана быть fire-and-forget: ошибки доставки
// логируются внутри и никогда не возвращаются движку.
type matchNotifier interface {
	MatchCreated(ctx context.Context, match *models.Match)
	MatchCancelled(ctx context.Context, match *models.Match)
	WaitlistPromoted(ctx context.Context, matchID, playerID int)
}

// EventPublisher рассылает событие всем подписчикам комнаты (live-обновления
// состава матча по WebSocket). *live.Hub реализует этот интерфейс.
type EventPublisher interface {
	BroadcastToRoom(roomID string, message interface{})
}

// CreateMatchInput — входные данные операции создания матча.
type CreateMatchInput struct {
	OrganizerID  int        `json:"organizer_id"`
	CourtAddress string     `json:"court_address"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	MinNTRPLevel *float64   `json:"min_ntrp_level,omitempty"`
	MaxPlayers   int        `json:"max_players,omitempty"`
}

// MatchRoster — матч вместе с его составом, разделённым на подтверждённых
// игроков (по времени регистрации) и лист ожидания (по позиции).
type MatchRoster struct {
	Match      *models.Match          `json:"match"`
	Registered []*models.Registration `json:"registered"`
	Waitlist   []*models.Registration `json:"waitlist"`
}

// MatchService владеет жизненным циклом матча и машиной состояний
// регистрация/лист ожидания. Это единственный писатель строк
// match_registrations и статуса матча.
//
// Критическая секция join/leave сериализуется на уровне строки матча:
// каждая операция начинается с SELECT ... FOR UPDATE, поэтому подсчёт мест,
// выдача позиции в листе ожидания, повышение и уплотнение позиций для одного
// матча никогда не выполняются конкурентно.
type MatchService struct {
	db       *sql.DB
	matches  repositories.MatchRepository
	regs     repositories.RegistrationRepository
	notifier matchNotifier
	hub      EventPublisher
	uploader storage.FileUploader
	logger   *slog.Logger
}

func NewMatchService(
	db *sql.DB,
	matches repositories.MatchRepository,
	regs repositories.RegistrationRepository,
	notifier matchNotifier,
	hub EventPublisher,
	uploader storage.FileUploader,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		db:       db,
		matches:  matches,
		regs:     regs,
		notifier: notifier,
		hub:      hub,
		uploader: uploader,
		logger:   logger,
	}
}

func matchRoom(matchID int) string {
	return fmt.Sprintf("match_%d", matchID)
}

func (s *MatchService) publish(matchID int, eventType string, payload interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastToRoom(matchRoom(matchID), map[string]interface{}{
		"type":    eventType,
		"payload": payload,
	})
}

// Create вставляет матч и регистрацию организатора одной транзакцией:
// если регистрация не записалась, матч тоже не сохраняется.
// Рассылка "новый матч" уходит после фиксации и не влияет на результат.
func (s *MatchService) Create(ctx context.Context, input CreateMatchInput) (*models.Match, error) {
	if input.OrganizerID == 0 || input.CourtAddress == "" || input.StartTime.IsZero() || input.EndTime.IsZero() {
		return nil, ErrMatchFieldsRequired
	}
	if !input.StartTime.Before(input.EndTime) {
		return nil, ErrMatchInvalidTimeRange
	}
	if input.StartTime.Before(time.Now()) {
		return nil, ErrMatchTimeInPast
	}
	if input.MaxPlayers < 0 {
		return nil, ErrMatchInvalidCapacity
	}
	if input.MaxPlayers == 0 {
		input.MaxPlayers = DefaultMatchCapacity
	}

	match := &models.Match{
		OrganizerID:  input.OrganizerID,
		CourtAddress: input.CourtAddress,
		StartTime:    input.StartTime,
		EndTime:      input.EndTime,
		MinNTRPLevel: input.MinNTRPLevel,
		MaxPlayers:   input.MaxPlayers,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin match creation transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.matches.Create(ctx, tx, match); err != nil {
		if errors.Is(err, repositories.ErrMatchOrganizerInvalid) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	organizerReg := &models.Registration{
		MatchID:  match.ID,
		PlayerID: input.OrganizerID,
		Type:     models.RegistrationRegistered,
	}
	if err := s.regs.Create(ctx, tx, organizerReg); err != nil {
		return nil, fmt.Errorf("failed to auto-register organizer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match creation: %w", err)
	}
	match.RegisteredCount = 1

	if s.notifier != nil {
		go s.notifier.MatchCreated(context.WithoutCancel(ctx), match)
	}
	return match, nil
}

// Cancel переводит scheduled -> cancelled, но только если запрос пришёл от
// организатора и матч ещё не отменён. Любой другой исход — ErrMatchNotFound:
// вызывающий намеренно не может отличить "чужой матч" от "уже отменён".
func (s *MatchService) Cancel(ctx context.Context, matchID, requesterID int) (*models.Match, error) {
	match, err := s.matches.CancelByOrganizer(ctx, matchID, requesterID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	if s.notifier != nil {
		go s.notifier.MatchCancelled(context.WithoutCancel(ctx), match)
	}
	s.publish(match.ID, "MATCH_CANCELLED", match)
	return match, nil
}

// Join регистрирует игрока в матч: проверка статуса,
// проверка повторной регистрации, затем место либо лист ожидания. Вся
// последовательность "посчитать-сравнить-вставить" выполняется под блокировкой
// строки матча, поэтому два конкурентных Join не могут оба увидеть свободное
// место или получить одну позицию в листе ожидания.
func (s *MatchService) Join(ctx context.Context, matchID, playerID int) (*models.Registration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin join transaction: %w", err)
	}
	defer tx.Rollback()

	match, err := s.matches.GetByIDForUpdate(ctx, tx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if match.Status != models.MatchStatusScheduled {
		return nil, ErrMatchNotOpen
	}

	_, err = s.regs.FindByMatchAndPlayer(ctx, tx, matchID, playerID)
	if err == nil {
		return nil, ErrAlreadyRegistered
	}
	if !errors.Is(err, repositories.ErrRegistrationNotFound) {
		return nil, err
	}

	reg := &models.Registration{
		MatchID:  matchID,
		PlayerID: playerID,
	}

	registeredCount, err := s.regs.CountRegistered(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}

	if registeredCount < match.MaxPlayers {
		reg.Type = models.RegistrationRegistered
	} else {
		maxPos, err := s.regs.MaxWaitlistPosition(ctx, tx, matchID)
		if err != nil {
			return nil, err
		}
		nextPos := maxPos + 1
		if nextPos > WaitlistLimit {
			return nil, ErrWaitlistFull
		}
		reg.Type = models.RegistrationWaitlist
		reg.WaitlistPosition = &nextPos
	}

	if err := s.regs.Create(ctx, tx, reg); err != nil {
		if errors.Is(err, repositories.ErrRegistrationConflict) {
			return nil, ErrAlreadyRegistered
		}
		if errors.Is(err, repositories.ErrRegistrationMatchInvalid) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}

	s.publish(matchID, "PLAYER_JOINED", reg)
	return reg, nil
}

// Leave удаляет регистрацию игрока и возвращает её состояние до удаления.
// Если ушёл подтверждённый игрок и лист ожидания не пуст, первый в очереди
// повышается, а оставшиеся позиции уплотняются — всё в той же транзакции,
// что и удаление, под блокировкой строки матча. Уведомление о повышении
// отправляется безусловно после фиксации.
func (s *MatchService) Leave(ctx context.Context, matchID, playerID int) (*models.Registration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin leave transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.matches.GetByIDForUpdate(ctx, tx, matchID); err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	deleted, err := s.regs.DeleteByMatchAndPlayer(ctx, tx, matchID, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}

	var promoted *models.Registration
	switch deleted.Type {
	case models.RegistrationRegistered:
		first, err := s.regs.FirstOnWaitlist(ctx, tx, matchID)
		switch {
		case err == nil:
			if err := s.regs.Promote(ctx, tx, first.ID); err != nil {
				return nil, err
			}
			if err := s.regs.CompactWaitlistAfter(ctx, tx, matchID, *first.WaitlistPosition); err != nil {
				return nil, err
			}
			promoted = first
		case errors.Is(err, repositories.ErrRegistrationNotFound):
			// Лист ожидания пуст, повышать некого.
		default:
			return nil, err
		}
	case models.RegistrationWaitlist:
		// Уход из середины очереди не должен оставлять дыру в позициях.
		if err := s.regs.CompactWaitlistAfter(ctx, tx, matchID, *deleted.WaitlistPosition); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit leave: %w", err)
	}

	s.publish(matchID, "PLAYER_LEFT", deleted)
	if promoted != nil {
		if s.notifier != nil {
			go s.notifier.WaitlistPromoted(context.WithoutCancel(ctx), matchID, promoted.PlayerID)
		}
		s.publish(matchID, "PLAYER_PROMOTED", promoted)
	}
	return deleted, nil
}

// GetWithRoster загружает матч и его состав параллельно.
func (s *MatchService) GetWithRoster(ctx context.Context, matchID int) (*MatchRoster, error) {
	var (
		match         *models.Match
		registrations []*models.Registration
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.matches.GetByID(gCtx, matchID)
		if err != nil {
			if errors.Is(err, repositories.ErrMatchNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		match = m
		return nil
	})
	g.Go(func() error {
		regs, err := s.regs.ListByMatch(gCtx, matchID)
		if err != nil {
			return err
		}
		registrations = regs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	roster := &MatchRoster{
		Match:      match,
		Registered: make([]*models.Registration, 0),
		Waitlist:   make([]*models.Registration, 0),
	}
	for _, reg := range registrations {
		if reg.Player != nil {
			populatePlayerAvatarURL(reg.Player, s.uploader)
		}
		switch reg.Type {
		case models.RegistrationRegistered:
			roster.Registered = append(roster.Registered, reg)
		case models.RegistrationWaitlist:
			roster.Waitlist = append(roster.Waitlist, reg)
		}
	}
	return roster, nil
}

// List возвращает запланированные матчи с опциональными фильтрами по
// диапазону времени начала и участию игрока.
func (s *MatchService) List(ctx context.Context, filter repositories.MatchFilter) ([]*models.Match, error) {
	return s.matches.List(ctx, filter)
}

// ListForPlayer возвращает запланированные матчи, в которых игрок
// зарегистрирован или стоит в листе ожидания.
func (s *MatchService) ListForPlayer(ctx context.Context, playerID int) ([]*models.MatchParticipation, error) {
	return s.matches.ListForPlayer(ctx, playerID)
}
