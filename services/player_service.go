package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/repositories"
	"github.com/matchpoint-app/matchpoint/storage"
)

// RegisterPlayerInput — данные первичной регистрации игрока.
type RegisterPlayerInput struct {
	PhoneOrEmail     string                  `json:"phone_or_email"`
	Name             string                  `json:"name"`
	Email            *string                 `json:"email,omitempty"`
	Phone            *string                 `json:"phone,omitempty"`
	Gender           *string                 `json:"gender,omitempty"`
	Address          *string                 `json:"address,omitempty"`
	NTRPLevel        *float64                `json:"ntrp_level,omitempty"`
	NotificationPref models.NotificationPref `json:"notification_preference,omitempty"`
}

// PlayerService управляет профилями игроков: поиск по ключу идентификации,
// регистрация, редактирование разрешённых полей, мягкое удаление, аватар.
type PlayerService struct {
	players  repositories.PlayerRepository
	uploader storage.FileUploader
}

func NewPlayerService(players repositories.PlayerRepository, uploader storage.FileUploader) *PlayerService {
	return &PlayerService{players: players, uploader: uploader}
}

// Lookup находит активного игрока по ключу phone_or_email. Это и есть "вход":
// пароля нет, отсутствие игрока означает, что надо зарегистрироваться.
func (s *PlayerService) Lookup(ctx context.Context, phoneOrEmail string) (*models.Player, error) {
	if phoneOrEmail == "" {
		return nil, ErrPlayerIdentityRequired
	}
	player, err := s.players.GetByPhoneOrEmail(ctx, phoneOrEmail)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	populatePlayerAvatarURL(player, s.uploader)
	return player, nil
}

// Register создаёт игрока. Ключ идентификации уникален среди активных игроков.
func (s *PlayerService) Register(ctx context.Context, input RegisterPlayerInput) (*models.Player, error) {
	if input.PhoneOrEmail == "" {
		return nil, ErrPlayerIdentityRequired
	}
	if input.Name == "" {
		return nil, ErrPlayerNameRequired
	}
	if input.NotificationPref == "" {
		input.NotificationPref = models.NotifyByEmail
	}

	player := &models.Player{
		PhoneOrEmail:     input.PhoneOrEmail,
		Name:             input.Name,
		Email:            input.Email,
		Phone:            input.Phone,
		Gender:           input.Gender,
		Address:          input.Address,
		NTRPLevel:        input.NTRPLevel,
		NotificationPref: input.NotificationPref,
	}
	if err := s.players.Create(ctx, player); err != nil {
		if errors.Is(err, repositories.ErrPlayerIdentityConflict) {
			return nil, ErrPlayerIdentityConflict
		}
		return nil, err
	}
	return player, nil
}

// GetByID возвращает активного игрока.
func (s *PlayerService) GetByID(ctx context.Context, id int) (*models.Player, error) {
	player, err := s.players.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	populatePlayerAvatarURL(player, s.uploader)
	return player, nil
}

// UpdateProfile меняет только разрешённые поля профиля; ключ идентификации
// и служебные поля недоступны для редактирования.
func (s *PlayerService) UpdateProfile(ctx context.Context, id int, upd repositories.PlayerUpdate) (*models.Player, error) {
	player, err := s.players.Update(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrPlayerNotFound):
			return nil, ErrPlayerNotFound
		case errors.Is(err, repositories.ErrPlayerIdentityConflict):
			return nil, ErrPlayerIdentityConflict
		}
		return nil, err
	}
	populatePlayerAvatarURL(player, s.uploader)
	return player, nil
}

// Delete мягко удаляет игрока: строка остаётся, но исключается из всех выборок.
func (s *PlayerService) Delete(ctx context.Context, id int) error {
	if err := s.players.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return ErrPlayerNotFound
		}
		return err
	}
	return nil
}

// ListActive возвращает всех активных игроков для выбора получателей рассылки.
func (s *PlayerService) ListActive(ctx context.Context) ([]*models.Player, error) {
	players, err := s.players.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	populatePlayerListAvatarURLs(players, s.uploader)
	return players, nil
}

// UploadAvatar загружает аватар игрока в объектное хранилище и запоминает ключ.
// Старый аватар с другим расширением удаляется по принципу best-effort.
func (s *PlayerService) UploadAvatar(ctx context.Context, id int, contentType string, file io.Reader) (*models.Player, error) {
	if s.uploader == nil {
		return nil, ErrUploaderNotConfigured
	}

	player, err := s.players.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	ext, err := extensionFromContentType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	key := fmt.Sprintf("avatars/player_%d%s", id, ext)
	if _, err := s.uploader.Upload(ctx, key, contentType, file); err != nil {
		return nil, fmt.Errorf("failed to upload avatar for player %d: %w", id, err)
	}

	if player.AvatarKey != nil && *player.AvatarKey != key {
		_ = s.uploader.Delete(ctx, *player.AvatarKey)
	}

	if err := s.players.UpdateAvatarKey(ctx, id, &key); err != nil {
		return nil, err
	}
	player.AvatarKey = &key
	populatePlayerAvatarURL(player, s.uploader)
	return player, nil
}

func extensionFromContentType(contentType string) (string, error) {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/gif":
		return ".gif", nil
	case "image/webp":
		return ".webp", nil
	default:
		parts := strings.Split(contentType, "/")
		if len(parts) == 2 && strings.HasPrefix(parts[0], "image") && parts[1] != "" {
			return "." + strings.Split(parts[1], "+")[0], nil
		}
		return "", fmt.Errorf("could not determine file extension from content type: %q", contentType)
	}
}
