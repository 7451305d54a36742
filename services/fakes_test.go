package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matchpoint-app/matchpoint/models"
	"github.com/matchpoint-app/matchpoint/repositories"
)

// nopDriver is a database/sql driver whose transactions always succeed.
// The fake repositories below ignore the executor entirely, so the service
// transaction plumbing runs against it without a real database.
type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

var registerNopDriver sync.Once

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	registerNopDriver.Do(func() {
		sql.Register("nop", nopDriver{})
	})
	db, err := sql.Open("nop", "")
	if err != nil {
		t.Fatalf("failed to open nop db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptrInt(v int) *int             { return &v }
func ptrFloat(v float64) *float64   { return &v }
func ptrString(v string) *string    { return &v }
func ptrTime(v time.Time) *time.Time { return &v }

// --- fake match repository ---

type fakeMatchRepo struct {
	mu      sync.Mutex
	nextID  int
	matches map[int]*models.Match

	reminderMarks map[repositories.ReminderWindow][]int
	unfilledMarks []int
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{
		matches:       make(map[int]*models.Match),
		reminderMarks: make(map[repositories.ReminderWindow][]int),
	}
}

func (r *fakeMatchRepo) put(m *models.Match) *models.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == 0 {
		r.nextID++
		m.ID = r.nextID
	} else if m.ID > r.nextID {
		r.nextID = m.ID
	}
	if m.Status == "" {
		m.Status = models.MatchStatusScheduled
	}
	clone := *m
	r.matches[m.ID] = &clone
	return m
}

func (r *fakeMatchRepo) Create(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	m.Status = models.MatchStatusScheduled
	m.CreatedAt = time.Now()
	r.put(m)
	return nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	clone := *m
	return &clone, nil
}

func (r *fakeMatchRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeMatchRepo) List(ctx context.Context, filter repositories.MatchFilter) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Match
	for _, m := range r.matches {
		if m.Status != models.MatchStatusScheduled {
			continue
		}
		if filter.From != nil && m.StartTime.Before(*filter.From) {
			continue
		}
		if filter.To != nil && m.StartTime.After(*filter.To) {
			continue
		}
		clone := *m
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (r *fakeMatchRepo) ListForPlayer(ctx context.Context, playerID int) ([]*models.MatchParticipation, error) {
	return nil, nil
}

func (r *fakeMatchRepo) CancelByOrganizer(ctx context.Context, matchID, organizerID int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok || m.OrganizerID != organizerID || m.Status != models.MatchStatusScheduled {
		return nil, repositories.ErrMatchNotFound
	}
	m.Status = models.MatchStatusCancelled
	m.CancelledAt = ptrTime(time.Now())
	clone := *m
	return &clone, nil
}

func (r *fakeMatchRepo) ListDueReminder(ctx context.Context, window repositories.ReminderWindow, now time.Time) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	horizon := now.Add(window.Duration())
	var due []*models.Match
	for _, m := range r.matches {
		if m.Status != models.MatchStatusScheduled {
			continue
		}
		sent := m.Reminder24hSent
		if window == repositories.ReminderWindow1h {
			sent = m.Reminder1hSent
		}
		if sent {
			continue
		}
		if m.StartTime.After(now) && !m.StartTime.After(horizon) {
			clone := *m
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (r *fakeMatchRepo) ListUnfilledCandidates(ctx context.Context, lookahead time.Duration, now time.Time) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	horizon := now.Add(lookahead)
	var due []*models.Match
	for _, m := range r.matches {
		if m.Status != models.MatchStatusScheduled || m.Unfilled3DaySent {
			continue
		}
		if m.StartTime.After(now) && !m.StartTime.After(horizon) {
			clone := *m
			due = append(due, &clone)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (r *fakeMatchRepo) MarkReminderSent(ctx context.Context, matchID int, window repositories.ReminderWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	switch window {
	case repositories.ReminderWindow24h:
		m.Reminder24hSent = true
	case repositories.ReminderWindow1h:
		m.Reminder1hSent = true
	}
	r.reminderMarks[window] = append(r.reminderMarks[window], matchID)
	return nil
}

func (r *fakeMatchRepo) MarkUnfilledSent(ctx context.Context, matchID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.Unfilled3DaySent = true
	r.unfilledMarks = append(r.unfilledMarks, matchID)
	return nil
}

// --- fake registration repository ---

type fakeRegistrationRepo struct {
	mu     sync.Mutex
	nextID int
	regs   []*models.Registration

	// players, when set, is used to nest player details in ListByMatch
	// the way the real repository's JOIN does.
	players *fakePlayerRepo
}

func newFakeRegistrationRepo() *fakeRegistrationRepo {
	return &fakeRegistrationRepo{}
}

func (r *fakeRegistrationRepo) Create(ctx context.Context, exec repositories.SQLExecutor, reg *models.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.regs {
		if existing.MatchID == reg.MatchID && existing.PlayerID == reg.PlayerID {
			return repositories.ErrRegistrationConflict
		}
	}
	r.nextID++
	reg.ID = r.nextID
	reg.RegisteredAt = time.Now()
	clone := *reg
	r.regs = append(r.regs, &clone)
	return nil
}

func (r *fakeRegistrationRepo) find(matchID, playerID int) *models.Registration {
	for _, reg := range r.regs {
		if reg.MatchID == matchID && reg.PlayerID == playerID {
			return reg
		}
	}
	return nil
}

func (r *fakeRegistrationRepo) FindByMatchAndPlayer(ctx context.Context, exec repositories.SQLExecutor, matchID, playerID int) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.find(matchID, playerID)
	if reg == nil {
		return nil, repositories.ErrRegistrationNotFound
	}
	clone := *reg
	return &clone, nil
}

func (r *fakeRegistrationRepo) CountRegistered(ctx context.Context, exec repositories.SQLExecutor, matchID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, reg := range r.regs {
		if reg.MatchID == matchID && reg.Type == models.RegistrationRegistered {
			count++
		}
	}
	return count, nil
}

func (r *fakeRegistrationRepo) MaxWaitlistPosition(ctx context.Context, exec repositories.SQLExecutor, matchID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, reg := range r.regs {
		if reg.MatchID == matchID && reg.Type == models.RegistrationWaitlist && reg.WaitlistPosition != nil && *reg.WaitlistPosition > max {
			max = *reg.WaitlistPosition
		}
	}
	return max, nil
}

func (r *fakeRegistrationRepo) ListByMatch(ctx context.Context, matchID int) ([]*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Registration
	for _, reg := range r.regs {
		if reg.MatchID != matchID {
			continue
		}
		clone := *reg
		if r.players != nil {
			if p := r.players.get(reg.PlayerID); p != nil {
				clone.Player = p
			}
		}
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Type != b.Type {
			return a.Type == models.RegistrationRegistered
		}
		if a.Type == models.RegistrationWaitlist {
			return *a.WaitlistPosition < *b.WaitlistPosition
		}
		return a.RegisteredAt.Before(b.RegisteredAt)
	})
	return result, nil
}

func (r *fakeRegistrationRepo) DeleteByMatchAndPlayer(ctx context.Context, exec repositories.SQLExecutor, matchID, playerID int) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.MatchID == matchID && reg.PlayerID == playerID {
			clone := *reg
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			return &clone, nil
		}
	}
	return nil, repositories.ErrRegistrationNotFound
}

func (r *fakeRegistrationRepo) FirstOnWaitlist(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first *models.Registration
	for _, reg := range r.regs {
		if reg.MatchID != matchID || reg.Type != models.RegistrationWaitlist || reg.WaitlistPosition == nil {
			continue
		}
		if first == nil || *reg.WaitlistPosition < *first.WaitlistPosition {
			first = reg
		}
	}
	if first == nil {
		return nil, repositories.ErrRegistrationNotFound
	}
	clone := *first
	return &clone, nil
}

func (r *fakeRegistrationRepo) Promote(ctx context.Context, exec repositories.SQLExecutor, registrationID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.regs {
		if reg.ID == registrationID {
			reg.Type = models.RegistrationRegistered
			reg.WaitlistPosition = nil
			return nil
		}
	}
	return repositories.ErrRegistrationNotFound
}

func (r *fakeRegistrationRepo) CompactWaitlistAfter(ctx context.Context, exec repositories.SQLExecutor, matchID, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.regs {
		if reg.MatchID == matchID && reg.Type == models.RegistrationWaitlist && reg.WaitlistPosition != nil && *reg.WaitlistPosition > position {
			newPos := *reg.WaitlistPosition - 1
			reg.WaitlistPosition = &newPos
		}
	}
	return nil
}

// waitlistPositions returns the current dense position sequence for a match,
// ascending, for invariant assertions.
func (r *fakeRegistrationRepo) waitlistPositions(matchID int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var positions []int
	for _, reg := range r.regs {
		if reg.MatchID == matchID && reg.Type == models.RegistrationWaitlist && reg.WaitlistPosition != nil {
			positions = append(positions, *reg.WaitlistPosition)
		}
	}
	sort.Ints(positions)
	return positions
}

// --- fake player repository ---

type fakePlayerRepo struct {
	mu      sync.Mutex
	nextID  int
	players map[int]*models.Player

	// regs, when set, backs the ExcludeMatchID filter.
	regs *fakeRegistrationRepo
}

func newFakePlayerRepo() *fakePlayerRepo {
	return &fakePlayerRepo{players: make(map[int]*models.Player)}
}

func (r *fakePlayerRepo) get(id int) *models.Player {
	if p, ok := r.players[id]; ok {
		clone := *p
		return &clone
	}
	return nil
}

func (r *fakePlayerRepo) put(p *models.Player) *models.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	} else if p.ID > r.nextID {
		r.nextID = p.ID
	}
	clone := *p
	r.players[p.ID] = &clone
	return p
}

func (r *fakePlayerRepo) Create(ctx context.Context, p *models.Player) error {
	r.mu.Lock()
	for _, existing := range r.players {
		if existing.PhoneOrEmail == p.PhoneOrEmail {
			r.mu.Unlock()
			return repositories.ErrPlayerIdentityConflict
		}
	}
	r.mu.Unlock()
	p.CreatedAt = time.Now()
	r.put(p)
	return nil
}

func (r *fakePlayerRepo) GetByID(ctx context.Context, id int) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.get(id)
	if p == nil || p.DeletedAt != nil {
		return nil, repositories.ErrPlayerNotFound
	}
	return p, nil
}

func (r *fakePlayerRepo) GetByPhoneOrEmail(ctx context.Context, phoneOrEmail string) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.players {
		if p.PhoneOrEmail == phoneOrEmail && p.DeletedAt == nil {
			clone := *p
			return &clone, nil
		}
	}
	return nil, repositories.ErrPlayerNotFound
}

func (r *fakePlayerRepo) Update(ctx context.Context, id int, upd repositories.PlayerUpdate) (*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok || p.DeletedAt != nil {
		return nil, repositories.ErrPlayerNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Email != nil {
		p.Email = upd.Email
	}
	if upd.Phone != nil {
		p.Phone = upd.Phone
	}
	if upd.Gender != nil {
		p.Gender = upd.Gender
	}
	if upd.Address != nil {
		p.Address = upd.Address
	}
	if upd.NTRPLevel != nil {
		p.NTRPLevel = upd.NTRPLevel
	}
	if upd.NotificationPref != nil {
		p.NotificationPref = *upd.NotificationPref
	}
	clone := *p
	return &clone, nil
}

func (r *fakePlayerRepo) UpdateAvatarKey(ctx context.Context, id int, avatarKey *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return repositories.ErrPlayerNotFound
	}
	p.AvatarKey = avatarKey
	return nil
}

func (r *fakePlayerRepo) SoftDelete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok || p.DeletedAt != nil {
		return repositories.ErrPlayerNotFound
	}
	p.DeletedAt = ptrTime(time.Now())
	return nil
}

func (r *fakePlayerRepo) ListActive(ctx context.Context) ([]*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Player
	for _, p := range r.players {
		if p.DeletedAt == nil {
			clone := *p
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *fakePlayerRepo) ListEligibleForMatch(ctx context.Context, filter repositories.EligibleFilter) ([]*models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Player
	for _, p := range r.players {
		if p.DeletedAt != nil || p.NotificationPref != models.NotifyByEmail || !p.CanReceiveEmail() {
			continue
		}
		if filter.ExcludePlayerID != nil && p.ID == *filter.ExcludePlayerID {
			continue
		}
		if filter.MinNTRPLevel != nil && (p.NTRPLevel == nil || *p.NTRPLevel < *filter.MinNTRPLevel) {
			continue
		}
		if filter.ExcludeMatchID != nil && r.regs != nil && r.regs.find(*filter.ExcludeMatchID, p.ID) != nil {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- fake mailer ---

type sentEmail struct {
	To      string
	Subject string
	HTML    string
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []sentEmail
	failFor map[string]bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: make(map[string]bool)}
}

func (m *fakeMailer) Send(to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[to] {
		return fmt.Errorf("delivery to %s failed", to)
	}
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, HTML: htmlBody})
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, e := range m.sent {
		out = append(out, e.To)
	}
	return out
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// --- fake event publisher ---

type publishedEvent struct {
	Room    string
	Message interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) BroadcastToRoom(roomID string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Room: roomID, Message: message})
}

func (p *fakePublisher) rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Room)
	}
	return out
}
