package services

import "errors"

// Общие ошибки сервисного слоя. HTTP-обработчики ветвятся по ним через
// errors.Is и никогда не разбирают текст сообщения.
var (
	// Ошибки валидации (обязательное поле отсутствует или неверно)
	ErrValidationFailed        = errors.New("validation failed")
	ErrMatchFieldsRequired     = errors.New("organizer, court address, start time and end time are required")
	ErrMatchInvalidTimeRange   = errors.New("match end time must be after start time")
	ErrMatchTimeInPast         = errors.New("match start and end times must be in the future")
	ErrMatchInvalidCapacity    = errors.New("match max players must be positive")
	ErrPlayerIdentityRequired  = errors.New("phone or email identity is required")
	ErrPlayerNameRequired      = errors.New("player name is required")
	ErrBulkEmailFieldsRequired = errors.New("recipient ids, message and sender id are required")

	// Ресурс не найден
	ErrPlayerNotFound       = errors.New("player not found")
	ErrMatchNotFound        = errors.New("match not found")
	ErrRegistrationNotFound = errors.New("player is not registered for this match")

	// Конфликты и отклонённые операции
	ErrPlayerIdentityConflict = errors.New("player already registered with this phone or email")
	ErrMatchNotOpen           = errors.New("match is not open for registration")
	ErrAlreadyRegistered      = errors.New("player is already registered for this match")
	ErrWaitlistFull           = errors.New("waitlist is full")

	// Инфраструктура
	ErrUploaderNotConfigured = errors.New("file storage is not configured")
)
