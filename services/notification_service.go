package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/repositories"
)

// UnfilledLookahead — горизонт прохода по незаполненным матчам.
const UnfilledLookahead = 3 * 24 * time.Hour

// NotificationService рассылает письма о событиях матчей. Все отправки
// fire-and-forget: сбой доставки логируется и никогда не прерывает ни
// вызвавшую операцию, ни остаток прохода планировщика.
//
// Планировщик — единственный писатель одноразовых флагов дедупликации;
// флаг выставляется после рассылки независимо от числа получателей.
type NotificationService struct {
	players repositories.PlayerRepository
	matches repositories.MatchRepository
	regs    repositories.RegistrationRepository
	mailer  EmailSender
	logger  *slog.Logger
}

func NewNotificationService(
	players repositories.PlayerRepository,
	matches repositories.MatchRepository,
	regs repositories.RegistrationRepository,
	mailer EmailSender,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		players: players,
		matches: matches,
		regs:    regs,
		mailer:  mailer,
		logger:  logger,
	}
}

// send доставляет одно письмо, проглатывая ошибку. Возвращает true, если
// отправка была запущена.
func (s *NotificationService) send(to string, msg EmailMessage) bool {
	if s.mailer == nil {
		s.logger.Debug("mailer not configured, skipping email", slog.String("to", to), slog.String("subject", msg.Subject))
		return false
	}
	if err := s.mailer.Send(to, msg.Subject, msg.HTML); err != nil {
		s.logger.Error("failed to send email",
			slog.String("to", to),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return false
	}
	return true
}

// MatchCreated рассылает "новый матч" всем активным игрокам с предпочтением
// EmailMe, подходящим по минимальному NTRP, кроме организатора.
func (s *NotificationService) MatchCreated(ctx context.Context, match *models.Match) {
	recipients, err := s.players.ListEligibleForMatch(ctx, repositories.EligibleFilter{
		MinNTRPLevel:    match.MinNTRPLevel,
		ExcludePlayerID: &match.OrganizerID,
	})
	if err != nil {
		s.logger.Error("failed to load recipients for new match broadcast",
			slog.Int("match_id", match.ID), slog.Any("error", err))
		return
	}

	msg, err := ComposeMatchCreated(match)
	if err != nil {
		s.logger.Error("failed to compose new match email", slog.Int("match_id", match.ID), slog.Any("error", err))
		return
	}

	for _, player := range recipients {
		if player.CanReceiveEmail() {
			s.send(*player.Email, msg)
		}
	}
	s.logger.Info("new match broadcast",
		slog.Int("match_id", match.ID),
		slog.Int("eligible_players", len(recipients)))
}

// MatchCancelled уведомляет всех зарегистрированных и ожидающих игроков
// отменённого матча, кроме выбравших DontNotifyMe.
func (s *NotificationService) MatchCancelled(ctx context.Context, match *models.Match) {
	registrations, err := s.regs.ListByMatch(ctx, match.ID)
	if err != nil {
		s.logger.Error("failed to load roster for cancellation broadcast",
			slog.Int("match_id", match.ID), slog.Any("error", err))
		return
	}

	msg, err := ComposeMatchCancelled(match)
	if err != nil {
		s.logger.Error("failed to compose cancellation email", slog.Int("match_id", match.ID), slog.Any("error", err))
		return
	}

	for _, reg := range registrations {
		player := reg.Player
		if player == nil || player.DeletedAt != nil {
			continue
		}
		if player.NotificationPref == models.NotifyNever || !player.CanReceiveEmail() {
			continue
		}
		s.send(*player.Email, msg)
	}
	s.logger.Info("cancellation broadcast",
		slog.Int("match_id", match.ID),
		slog.Int("roster_size", len(registrations)))
}

// WaitlistPromoted уведомляет повышенного игрока. Предпочтение уведомлений
// намеренно игнорируется: игрок должен узнать, что теперь занимает место.
func (s *NotificationService) WaitlistPromoted(ctx context.Context, matchID, playerID int) {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		s.logger.Error("failed to load match for promotion notice",
			slog.Int("match_id", matchID), slog.Any("error", err))
		return
	}

	player, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		s.logger.Error("failed to load player for promotion notice",
			slog.Int("player_id", playerID), slog.Any("error", err))
		return
	}
	if !player.CanReceiveEmail() {
		return
	}

	msg, err := ComposeWaitlistPromotion(match, player.Name)
	if err != nil {
		s.logger.Error("failed to compose promotion email", slog.Int("match_id", matchID), slog.Any("error", err))
		return
	}
	s.send(*player.Email, msg)
	s.logger.Info("waitlist promotion notice",
		slog.Int("match_id", matchID), slog.Int("player_id", playerID))
}

func reminderWindowLabel(window repositories.ReminderWindow) string {
	if window == repositories.ReminderWindow1h {
		return "1 hour"
	}
	return "24 hours"
}

// SendMatchReminders — проход планировщика по окну напоминаний: матчи со
// start_time в (now, now+window], статусом scheduled и невыставленным флагом.
// Флаг выставляется после рассылки, даже если не нашлось ни одного
// подходящего получателя. Ошибка на одном матче не прерывает проход.
func (s *NotificationService) SendMatchReminders(ctx context.Context, window repositories.ReminderWindow) error {
	matches, err := s.matches.ListDueReminder(ctx, window, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list matches due %s reminder: %w", reminderWindowLabel(window), err)
	}

	for _, match := range matches {
		if err := s.remindMatch(ctx, match, window); err != nil {
			s.logger.Error("reminder pass failed for match",
				slog.Int("match_id", match.ID),
				slog.String("window", reminderWindowLabel(window)),
				slog.Any("error", err))
		}
	}

	if len(matches) > 0 {
		s.logger.Info("reminder pass complete",
			slog.String("window", reminderWindowLabel(window)),
			slog.Int("matches", len(matches)))
	}
	return nil
}

func (s *NotificationService) remindMatch(ctx context.Context, match *models.Match, window repositories.ReminderWindow) error {
	registrations, err := s.regs.ListByMatch(ctx, match.ID)
	if err != nil {
		return err
	}

	registered := make([]*models.Registration, 0, len(registrations))
	for _, reg := range registrations {
		if reg.Type == models.RegistrationRegistered {
			registered = append(registered, reg)
		}
	}

	msg, err := ComposeMatchReminder(match, registered, reminderWindowLabel(window))
	if err != nil {
		return err
	}

	for _, reg := range registered {
		player := reg.Player
		if player == nil || player.DeletedAt != nil {
			continue
		}
		if player.NotificationPref == models.NotifyNever || !player.CanReceiveEmail() {
			continue
		}
		s.send(*player.Email, msg)
	}

	return s.matches.MarkReminderSent(ctx, match.ID, window)
}

// SendUnfilledMatchNotifications — часовой проход: зовёт игроков в матчи, не
// набравшие состав за UnfilledLookahead до начала. Заполнившийся матч только
// помечается, чтобы больше не проверяться.
func (s *NotificationService) SendUnfilledMatchNotifications(ctx context.Context) error {
	matches, err := s.matches.ListUnfilledCandidates(ctx, UnfilledLookahead, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list unfilled match candidates: %w", err)
	}

	for _, match := range matches {
		if err := s.nudgeUnfilledMatch(ctx, match); err != nil {
			s.logger.Error("unfilled pass failed for match",
				slog.Int("match_id", match.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (s *NotificationService) nudgeUnfilledMatch(ctx context.Context, match *models.Match) error {
	if match.RegisteredCount >= match.MaxPlayers {
		// Матч успел заполниться до закрытия окна: писем нет, но флаг
		// выставляем, чтобы не перепроверять его каждый час.
		return s.matches.MarkUnfilledSent(ctx, match.ID)
	}

	recipients, err := s.players.ListEligibleForMatch(ctx, repositories.EligibleFilter{
		MinNTRPLevel:   match.MinNTRPLevel,
		ExcludeMatchID: &match.ID,
	})
	if err != nil {
		return err
	}

	msg, err := ComposeUnfilledMatch(match, match.OpenSpots())
	if err != nil {
		return err
	}

	notified := 0
	for _, player := range recipients {
		if player.CanReceiveEmail() && s.send(*player.Email, msg) {
			notified++
		}
	}
	s.logger.Info("unfilled match nudge",
		slog.Int("match_id", match.ID),
		slog.Int("open_spots", match.OpenSpots()),
		slog.Int("notified", notified))

	return s.matches.MarkUnfilledSent(ctx, match.ID)
}

// BulkEmailInput — произвольная рассылка от имени игрока.
type BulkEmailInput struct {
	SenderID  int    `json:"sender_id"`
	PlayerIDs []int  `json:"player_ids"`
	MatchIDs  []int  `json:"match_ids,omitempty"`
	Message   string `json:"message"`
}

// SendCustomEmail собирает письмо с сообщением отправителя и контекстом из
// прикреплённых матчей и доставляет каждому адресуемому получателю.
// Возвращает число фактически отправленных писем.
func (s *NotificationService) SendCustomEmail(ctx context.Context, input BulkEmailInput) (int, error) {
	if len(input.PlayerIDs) == 0 || input.Message == "" || input.SenderID == 0 {
		return 0, ErrBulkEmailFieldsRequired
	}

	sender, err := s.players.GetByID(ctx, input.SenderID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return 0, ErrPlayerNotFound
		}
		return 0, err
	}

	// Нерезолвящиеся матчи молча пропускаются: контекст опционален.
	matches := make([]*models.Match, 0, len(input.MatchIDs))
	for _, matchID := range input.MatchIDs {
		match, err := s.matches.GetByID(ctx, matchID)
		if err != nil {
			if errors.Is(err, repositories.ErrMatchNotFound) {
				continue
			}
			return 0, err
		}
		matches = append(matches, match)
	}

	msg, err := ComposeCustomMessage(sender.Name, input.Message, matches)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, playerID := range input.PlayerIDs {
		player, err := s.players.GetByID(ctx, playerID)
		if err != nil {
			if errors.Is(err, repositories.ErrPlayerNotFound) {
				continue
			}
			return sent, err
		}
		if player.CanReceiveEmail() && s.send(*player.Email, msg) {
			sent++
		}
	}
	return sent, nil
}
