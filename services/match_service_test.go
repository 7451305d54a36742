package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpoint-app/matchpoint/models"
)

type matchServiceFixture struct {
	svc     *MatchService
	matches *fakeMatchRepo
	regs    *fakeRegistrationRepo
	pub     *fakePublisher
}

func newMatchServiceFixture(t *testing.T) *matchServiceFixture {
	t.Helper()
	matches := newFakeMatchRepo()
	regs := newFakeRegistrationRepo()
	pub := &fakePublisher{}
	svc := NewMatchService(newTestDB(t), matches, regs, nil, pub, nil, testLogger())
	return &matchServiceFixture{svc: svc, matches: matches, regs: regs, pub: pub}
}

func (f *matchServiceFixture) scheduledMatch(t *testing.T, organizerID, maxPlayers int) *models.Match {
	t.Helper()
	m := f.matches.put(&models.Match{
		OrganizerID:  organizerID,
		CourtAddress: "12 Baseline Court",
		StartTime:    time.Now().Add(48 * time.Hour),
		EndTime:      time.Now().Add(50 * time.Hour),
		MaxPlayers:   maxPlayers,
	})
	return m
}

func TestCreateMatchDefaultsAndOrganizerRegistration(t *testing.T) {
	f := newMatchServiceFixture(t)

	match, err := f.svc.Create(context.Background(), CreateMatchInput{
		OrganizerID:  7,
		CourtAddress: "12 Baseline Court",
		StartTime:    time.Now().Add(24 * time.Hour),
		EndTime:      time.Now().Add(26 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultMatchCapacity, match.MaxPlayers)
	assert.Equal(t, models.MatchStatusScheduled, match.Status)
	assert.Equal(t, 1, match.RegisteredCount)

	reg, err := f.regs.FindByMatchAndPlayer(context.Background(), nil, match.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, reg.Type)
	assert.Nil(t, reg.WaitlistPosition)
}

func TestCreateMatchValidation(t *testing.T) {
	f := newMatchServiceFixture(t)
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(2 * time.Hour)

	cases := []struct {
		name    string
		input   CreateMatchInput
		wantErr error
	}{
		{
			name:    "missing court address",
			input:   CreateMatchInput{OrganizerID: 1, StartTime: start, EndTime: end},
			wantErr: ErrMatchFieldsRequired,
		},
		{
			name:    "missing organizer",
			input:   CreateMatchInput{CourtAddress: "c", StartTime: start, EndTime: end},
			wantErr: ErrMatchFieldsRequired,
		},
		{
			name:    "end before start",
			input:   CreateMatchInput{OrganizerID: 1, CourtAddress: "c", StartTime: end, EndTime: start},
			wantErr: ErrMatchInvalidTimeRange,
		},
		{
			name:    "start in the past",
			input:   CreateMatchInput{OrganizerID: 1, CourtAddress: "c", StartTime: time.Now().Add(-time.Hour), EndTime: end},
			wantErr: ErrMatchTimeInPast,
		},
		{
			name:    "negative capacity",
			input:   CreateMatchInput{OrganizerID: 1, CourtAddress: "c", StartTime: start, EndTime: end, MaxPlayers: -1},
			wantErr: ErrMatchInvalidCapacity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.input)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestJoinFillsCapacityThenWaitlists(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 2)

	// Organizer holds one spot, as Create would have arranged.
	_, err := f.svc.Join(context.Background(), match.ID, 1)
	require.NoError(t, err)

	reg, err := f.svc.Join(context.Background(), match.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, reg.Type)

	// Capacity reached: the next three land on the waitlist at 1, 2, 3.
	for i, playerID := range []int{3, 4, 5} {
		reg, err := f.svc.Join(context.Background(), match.ID, playerID)
		require.NoError(t, err)
		assert.Equal(t, models.RegistrationWaitlist, reg.Type)
		require.NotNil(t, reg.WaitlistPosition)
		assert.Equal(t, i+1, *reg.WaitlistPosition)
	}

	_, err = f.svc.Join(context.Background(), match.ID, 6)
	assert.ErrorIs(t, err, ErrWaitlistFull)

	count, err := f.regs.CountRegistered(context.Background(), nil, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []int{1, 2, 3}, f.regs.waitlistPositions(match.ID))
}

func TestJoinRejectsDuplicate(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	_, err := f.svc.Join(context.Background(), match.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), match.ID, 2)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestJoinRejectsCancelledMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.matches.put(&models.Match{
		OrganizerID:  1,
		CourtAddress: "12 Baseline Court",
		StartTime:    time.Now().Add(48 * time.Hour),
		EndTime:      time.Now().Add(50 * time.Hour),
		MaxPlayers:   4,
		Status:       models.MatchStatusCancelled,
	})

	_, err := f.svc.Join(context.Background(), match.ID, 2)
	assert.ErrorIs(t, err, ErrMatchNotOpen)
}

func TestJoinUnknownMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	_, err := f.svc.Join(context.Background(), 404, 2)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestLeavePromotesFirstOnWaitlist(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 2)

	// A and B registered, C and D on the waitlist at 1 and 2.
	for _, playerID := range []int{1, 2, 3, 4} {
		_, err := f.svc.Join(context.Background(), match.ID, playerID)
		require.NoError(t, err)
	}

	deleted, err := f.svc.Leave(context.Background(), match.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, deleted.Type)

	promoted, err := f.regs.FindByMatchAndPlayer(context.Background(), nil, match.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, promoted.Type)
	assert.Nil(t, promoted.WaitlistPosition)

	remaining, err := f.regs.FindByMatchAndPlayer(context.Background(), nil, match.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationWaitlist, remaining.Type)
	require.NotNil(t, remaining.WaitlistPosition)
	assert.Equal(t, 1, *remaining.WaitlistPosition)

	count, err := f.regs.CountRegistered(context.Background(), nil, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLeaveWithEmptyWaitlistDoesNotPromote(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	_, err := f.svc.Join(context.Background(), match.ID, 1)
	require.NoError(t, err)

	deleted, err := f.svc.Leave(context.Background(), match.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, deleted.Type)

	count, err := f.regs.CountRegistered(context.Background(), nil, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, f.regs.waitlistPositions(match.ID))
}

func TestLeaveFromWaitlistCompactsPositions(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 1)

	// Player 1 takes the single spot, 2..4 queue up.
	for _, playerID := range []int{1, 2, 3, 4} {
		_, err := f.svc.Join(context.Background(), match.ID, playerID)
		require.NoError(t, err)
	}

	// Player 3 held position 2; 4 slides down to close the gap.
	deleted, err := f.svc.Leave(context.Background(), match.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationWaitlist, deleted.Type)

	assert.Equal(t, []int{1, 2}, f.regs.waitlistPositions(match.ID))

	count, err := f.regs.CountRegistered(context.Background(), nil, match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLeaveNotRegistered(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	_, err := f.svc.Leave(context.Background(), match.ID, 99)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestLeaveUnknownMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	_, err := f.svc.Leave(context.Background(), 404, 1)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestCancelByOrganizer(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	cancelled, err := f.svc.Cancel(context.Background(), match.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
}

func TestCancelIndistinguishableOutcomes(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	// Wrong organizer and already-cancelled both read as not found.
	_, err := f.svc.Cancel(context.Background(), match.ID, 2)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = f.svc.Cancel(context.Background(), match.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), match.ID, 1)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestJoinLeavePublishRoomEvents(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 4)

	_, err := f.svc.Join(context.Background(), match.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.Leave(context.Background(), match.ID, 2)
	require.NoError(t, err)

	room := fmt.Sprintf("match_%d", match.ID)
	assert.Equal(t, []string{room, room}, f.pub.rooms())
}

func TestGetWithRosterSplitsRegisteredAndWaitlist(t *testing.T) {
	f := newMatchServiceFixture(t)
	match := f.scheduledMatch(t, 1, 2)

	for _, playerID := range []int{1, 2, 3, 4} {
		_, err := f.svc.Join(context.Background(), match.ID, playerID)
		require.NoError(t, err)
	}

	roster, err := f.svc.GetWithRoster(context.Background(), match.ID)
	require.NoError(t, err)
	assert.Equal(t, match.ID, roster.Match.ID)
	require.Len(t, roster.Registered, 2)
	require.Len(t, roster.Waitlist, 2)
	assert.Equal(t, 1, *roster.Waitlist[0].WaitlistPosition)
	assert.Equal(t, 2, *roster.Waitlist[1].WaitlistPosition)
}

func TestGetWithRosterUnknownMatch(t *testing.T) {
	f := newMatchServiceFixture(t)
	_, err := f.svc.GetWithRoster(context.Background(), 404)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}
