package models

import "time"

// NotificationPref соответствует ENUM notification_preference в БД.
type NotificationPref string

const (
	NotifyByEmail NotificationPref = "EmailMe"
	NotifyByText  NotificationPref = "TextMe"
	NotifyNever   NotificationPref = "DontNotifyMe"
)

// Player представляет игрока. Идентификация происходит по полю PhoneOrEmail
// (уникальный ключ поиска, без пароля). Игроки никогда не удаляются физически:
// DeletedAt != nil означает мягкое удаление, такие строки исключаются из всех выборок.
type Player struct {
	ID               int              `json:"id" db:"id"`
	PhoneOrEmail     string           `json:"phone_or_email" db:"phone_or_email"`
	Name             string           `json:"name" db:"name"`
	Email            *string          `json:"email,omitempty" db:"email"`
	Phone            *string          `json:"phone,omitempty" db:"phone"`
	Gender           *string          `json:"gender,omitempty" db:"gender"`
	Address          *string          `json:"address,omitempty" db:"address"`
	NTRPLevel        *float64         `json:"ntrp_level,omitempty" db:"ntrp_level"`
	NotificationPref NotificationPref `json:"notification_preference" db:"notification_preference"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	DeletedAt        *time.Time       `json:"-" db:"deleted_at"`
	AvatarKey        *string          `json:"-" db:"avatar_key"`
	AvatarURL        *string          `json:"avatar_url,omitempty" db:"-"`
}

// CanReceiveEmail сообщает, может ли игроку вообще быть доставлено письмо.
// Предпочтение уведомлений проверяется отдельно вызывающей стороной.
func (p *Player) CanReceiveEmail() bool {
	return p.Email != nil && *p.Email != ""
}
