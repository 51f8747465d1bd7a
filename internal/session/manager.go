// Package session holds the per-user confirmation state machine:
// IDLE -> AWAITING_CONFIRMATION -> IDLE.
//
// Each user has at most one pending proposal. A new proposal replaces the
// previous one, confirm commits it to the ledger, decline drops it, and a
// proposal older than the TTL behaves as if it never existed.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"nutribot/internal/metrics"
	"nutribot/internal/models"
)

// ledger is the single ledger operation the manager needs.
type ledger interface {
	Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error)
}

// Manager is safe for concurrent use. It never holds its lock across
// ledger I/O.
type Manager struct {
	mu      sync.Mutex
	pending *cache.Cache
	ledger  ledger
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewManager(l ledger, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		pending: cache.New(ttl, ttl),
		ledger:  l,
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
		log:     logger.With("component", "session"),
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Propose stores a new pending proposal for the user, replacing any other.
func (m *Manager) Propose(userID int64, description string, est models.NutrientEstimate) models.PendingProposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := models.PendingProposal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: description,
		Estimate:    est,
		CreatedAt:   m.now(),
	}

	if _, ok := m.current(userID); ok {
		m.metrics.SessionEvent("superseded")
		m.log.Debug("proposal superseded", "user_id", userID)
	}
	m.pending.Set(key(userID), p, m.ttl)
	m.metrics.SessionEvent("proposed")
	return p
}

// Pending returns the user's live proposal, if any.
func (m *Manager) Pending(userID int64) (models.PendingProposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(userID)
}

// Confirm commits the pending proposal. proposalID, when non-empty, must
// match the pending one; a mismatch is a stale answer and is rejected with
// ErrNoPendingProposal. If the ledger write fails the proposal is put back
// so the user can retry explicitly.
func (m *Manager) Confirm(ctx context.Context, userID int64, proposalID string) (models.LedgerEntry, error) {
	p, err := m.take(userID, proposalID)
	if err != nil {
		return models.LedgerEntry{}, err
	}

	entry, err := m.ledger.Append(ctx, models.NewLedgerEntry(p, m.clock()))
	if err != nil {
		m.restore(p)
		return models.LedgerEntry{}, fmt.Errorf("session: commit proposal %s: %w", p.ID, err)
	}

	m.metrics.SessionEvent("confirmed")
	m.log.Info("proposal confirmed", "user_id", userID, "entry_id", entry.ID)
	return entry, nil
}

// Decline drops the pending proposal without touching the ledger.
func (m *Manager) Decline(userID int64, proposalID string) (models.PendingProposal, error) {
	p, err := m.take(userID, proposalID)
	if err != nil {
		return models.PendingProposal{}, err
	}
	m.metrics.SessionEvent("declined")
	return p, nil
}

// Discard drops whatever is pending, reporting whether anything was.
func (m *Manager) Discard(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.current(userID)
	m.pending.Delete(key(userID))
	return ok
}

func (m *Manager) take(userID int64, proposalID string) (models.PendingProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.current(userID)
	if !ok {
		m.metrics.SessionEvent("no_pending")
		return models.PendingProposal{}, models.ErrNoPendingProposal
	}
	if proposalID != "" && proposalID != p.ID {
		m.metrics.SessionEvent("no_pending")
		return models.PendingProposal{}, fmt.Errorf("stale proposal %s: %w", proposalID, models.ErrNoPendingProposal)
	}

	m.pending.Delete(key(userID))
	return p, nil
}

// restore puts p back unless a newer proposal took the slot meanwhile.
func (m *Manager) restore(p models.PendingProposal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.current(p.UserID); ok {
		return
	}
	remaining := m.ttl - m.now().Sub(p.CreatedAt)
	if remaining <= 0 {
		return
	}
	m.pending.Set(key(p.UserID), p, remaining)
}

// current must be called with mu held.
func (m *Manager) current(userID int64) (models.PendingProposal, bool) {
	v, ok := m.pending.Get(key(userID))
	if !ok {
		return models.PendingProposal{}, false
	}
	p := v.(models.PendingProposal)
	if m.now().Sub(p.CreatedAt) >= m.ttl {
		m.pending.Delete(key(userID))
		m.metrics.SessionEvent("expired")
		return models.PendingProposal{}, false
	}
	return p, true
}

func (m *Manager) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}
