package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribot/internal/models"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type ledgerMock struct {
	mu         sync.Mutex
	entries    []models.LedgerEntry
	AppendFunc func(ctx context.Context, e models.LedgerEntry) (models.LedgerEntry, error)
}

func (l *ledgerMock) Append(ctx context.Context, e models.LedgerEntry) (models.LedgerEntry, error) {
	if l.AppendFunc != nil {
		return l.AppendFunc(ctx, e)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *ledgerMock) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(l ledger) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	m := NewManager(l, 30*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	m.SetClock(clock.Now)
	return m, clock
}

var bananas = models.NutrientEstimate{ProteinG: 1.2, CarbsG: 27.0, FatG: 0.4, CaloriesKcal: 210}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestManager_ProposeThenConfirm(t *testing.T) {
	l := &ledgerMock{}
	m, clock := newTestManager(l)

	p := m.Propose(1, "2 bananas", bananas)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, bananas, p.Estimate)

	clock.Advance(time.Minute)
	entry, err := m.Confirm(context.Background(), 1, "")
	require.NoError(t, err)

	assert.EqualValues(t, 1, entry.UserID)
	assert.Equal(t, "2 bananas", entry.Description)
	assert.Equal(t, 1.2, entry.ProteinG)
	assert.Equal(t, 27.0, entry.CarbsG)
	assert.Equal(t, 0.4, entry.FatG)
	assert.Equal(t, 210.0, entry.CaloriesKcal)
	assert.Equal(t, clock.Now(), entry.CommittedAt)

	_, pending := m.Pending(1)
	assert.False(t, pending)
	assert.Equal(t, 1, l.count())
}

func TestManager_DoubleSubmit(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)
	ctx := context.Background()

	m.Propose(1, "rice", bananas)
	_, err := m.Confirm(ctx, 1, "")
	require.NoError(t, err)

	_, err = m.Confirm(ctx, 1, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)
	_, err = m.Decline(1, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)

	m.Propose(1, "beans", bananas)
	_, err = m.Decline(1, "")
	require.NoError(t, err)
	_, err = m.Decline(1, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)
	_, err = m.Confirm(ctx, 1, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)

	assert.Equal(t, 1, l.count(), "ledger only has the first confirmation")
}

func TestManager_ConfirmFromIdle(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)

	_, err := m.Confirm(context.Background(), 7, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)
	assert.Zero(t, l.count())
}

func TestManager_SecondProposeSupersedesFirst(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)

	first := m.Propose(1, "apple", models.NutrientEstimate{CarbsG: 25, CaloriesKcal: 95})
	second := m.Propose(1, "pear", models.NutrientEstimate{CarbsG: 27, CaloriesKcal: 100})
	require.NotEqual(t, first.ID, second.ID)

	// A button rendered for the first proposal is stale now.
	_, err := m.Confirm(context.Background(), 1, first.ID)
	require.ErrorIs(t, err, models.ErrNoPendingProposal)

	entry, err := m.Confirm(context.Background(), 1, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "pear", entry.Description)
	assert.Equal(t, 1, l.count())
}

func TestManager_UsersAreIndependent(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)

	m.Propose(1, "a", bananas)
	m.Propose(2, "b", bananas)

	_, err := m.Decline(1, "")
	require.NoError(t, err)

	p, ok := m.Pending(2)
	require.True(t, ok)
	assert.Equal(t, "b", p.Description)
}

func TestManager_ProposalExpires(t *testing.T) {
	l := &ledgerMock{}
	m, clock := newTestManager(l)

	m.Propose(1, "toast", bananas)
	clock.Advance(29 * time.Minute)
	_, ok := m.Pending(1)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = m.Pending(1)
	assert.False(t, ok)

	_, err := m.Confirm(context.Background(), 1, "")
	require.ErrorIs(t, err, models.ErrNoPendingProposal)
	assert.Zero(t, l.count())
}

func TestManager_LedgerFailureKeepsProposal(t *testing.T) {
	l := &ledgerMock{
		AppendFunc: func(ctx context.Context, e models.LedgerEntry) (models.LedgerEntry, error) {
			return models.LedgerEntry{}, models.ErrStorageUnavailable
		},
	}
	m, _ := newTestManager(l)

	p := m.Propose(1, "egg", bananas)
	_, err := m.Confirm(context.Background(), 1, p.ID)
	require.ErrorIs(t, err, models.ErrStorageUnavailable)

	still, ok := m.Pending(1)
	require.True(t, ok, "proposal must survive a failed commit")
	assert.Equal(t, p.ID, still.ID)
}

func TestManager_Discard(t *testing.T) {
	m, _ := newTestManager(&ledgerMock{})

	assert.False(t, m.Discard(1))
	m.Propose(1, "x", bananas)
	assert.True(t, m.Discard(1))
	_, ok := m.Pending(1)
	assert.False(t, ok)
}

func TestManager_ConcurrentUsers(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)

	var wg sync.WaitGroup
	for uid := int64(0); uid < 50; uid++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			m.Propose(uid, "x", bananas)
			_, err := m.Confirm(context.Background(), uid, "")
			assert.NoError(t, err)
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 50, l.count())
}

func TestManager_ConcurrentConfirmSameProposalCommitsOnce(t *testing.T) {
	l := &ledgerMock{}
	m, _ := newTestManager(l)
	m.Propose(1, "x", bananas)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var okCount, noPending int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Confirm(context.Background(), 1, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, models.ErrNoPendingProposal):
				noPending++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okCount)
	assert.Equal(t, 9, noPending)
	assert.Equal(t, 1, l.count())
}
