package models

import "time"

// MatchStatus представляет статусы матча, соответствующие ENUM в БД.
// Статус cancelled терминален: отменённый матч никогда не возвращается в scheduled.
type MatchStatus string

const (
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// Match представляет запланированный теннисный матч.
//
// Три булевых флага (Reminder24hSent, Reminder1hSent, Unfilled3DaySent)
// одноразовые: планировщик уведомлений переводит их false -> true и никогда
// не сбрасывает обратно, что защищает от повторной отправки при перезапусках.
type Match struct {
	ID               int         `json:"id" db:"id"`
	OrganizerID      int         `json:"organizer_id" db:"organizer_id"`
	CourtAddress     string      `json:"court_address" db:"court_address"`
	StartTime        time.Time   `json:"start_time" db:"start_time"`
	EndTime          time.Time   `json:"end_time" db:"end_time"`
	MinNTRPLevel     *float64    `json:"min_ntrp_level,omitempty" db:"min_ntrp_level"`
	MaxPlayers       int         `json:"max_players" db:"max_players"`
	Status           MatchStatus `json:"status" db:"status"`
	Reminder24hSent  bool        `json:"-" db:"reminder_24h_sent"`
	Reminder1hSent   bool        `json:"-" db:"reminder_1h_sent"`
	Unfilled3DaySent bool        `json:"-" db:"unfilled_3day_sent"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`

	// Поля, заполняемые JOIN'ами и подзапросами (не колонки matches)
	OrganizerName   *string `json:"organizer_name,omitempty" db:"-"`
	RegisteredCount int     `json:"registered_count" db:"-"`

	// Опциональные связанные сущности
	Organizer *Player `json:"organizer,omitempty" db:"-"`
}

// MatchParticipation — матч глазами конкретного игрока: сам матч плюс тип его
// регистрации и позиция в листе ожидания, если есть.
type MatchParticipation struct {
	Match            Match            `json:"match"`
	RegistrationType RegistrationType `json:"registration_type"`
	WaitlistPosition *int             `json:"position_on_waitlist,omitempty"`
}

// OpenSpots возвращает количество свободных мест с учётом текущего числа
// подтверждённых регистраций.
func (m *Match) OpenSpots() int {
	spots := m.MaxPlayers - m.RegisteredCount
	if spots < 0 {
		return 0
	}
	return spots
}
