package models

import "time"

// RegistrationType соответствует ENUM registration_type в БД.
type RegistrationType string

const (
	RegistrationRegistered RegistrationType = "registered"
	RegistrationWaitlist   RegistrationType = "waitlist"
)

// Registration связывает игрока с матчем. Для каждой пары (match, player)
// существует не более одной строки (уникальный индекс в БД).
//
// WaitlistPosition заполнена только для type = waitlist и всегда образует
// плотную последовательность 1..k без пропусков; при повышении с листа
// ожидания позиция обнуляется, а оставшиеся сдвигаются на единицу вниз.
type Registration struct {
	ID               int              `json:"id" db:"id"`
	MatchID          int              `json:"match_id" db:"match_id"`
	PlayerID         int              `json:"player_id" db:"player_id"`
	Type             RegistrationType `json:"registration_type" db:"registration_type"`
	WaitlistPosition *int             `json:"position_on_waitlist,omitempty" db:"position_on_waitlist"`
	RegisteredAt     time.Time        `json:"registered_at" db:"registered_at"`

	// Опционально вложенный игрок (для вывода состава матча)
	Player *Player `json:"player,omitempty" db:"-"`
}
