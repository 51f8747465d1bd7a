// Package bot turns user intents into core operations and replies.
//
// Service holds one method per command. Each returns the reply to show the
// user along with the underlying error, if any; the reply is always set.
// Handler routes chat updates to Service and sends the replies.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"nutribot/internal/models"
	"nutribot/internal/report"
	"nutribot/internal/resolver"
	"nutribot/internal/session"
)

type store interface {
	EnsurePreference(ctx context.Context, userID int64) (models.UserPreference, error)
	SetReportsEnabled(ctx context.Context, userID int64, enabled bool) (models.UserPreference, error)
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
}

type totaler interface {
	Aggregate(ctx context.Context, userID int64, day time.Time) (models.Totals, error)
}

type reportSender interface {
	SendTo(ctx context.Context, userID int64) (models.ReportRun, error)
}

type Service struct {
	store    store
	sessions *session.Manager
	resolver resolver.Resolver
	tally    totaler
	reports  reportSender
	lanes    *lanes
	known    sync.Map
	now      func() time.Time
	log      *slog.Logger
}

func NewService(st store, sessions *session.Manager, r resolver.Resolver, t totaler, reports reportSender, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		sessions: sessions,
		resolver: r,
		tally:    t,
		reports:  reports,
		lanes:    newLanes(),
		now:      time.Now,
		log:      logger.With("component", "bot"),
	}
}

func (s *Service) reply(userID int64, text string) OutboundMessage {
	return OutboundMessage{UserID: userID, Text: text}
}

func (s *Service) Start(ctx context.Context, userID int64) (OutboundMessage, error) {
	s.touch(ctx, userID)
	return s.reply(userID, report.Help), nil
}

func (s *Service) Help(ctx context.Context, userID int64) (OutboundMessage, error) {
	s.touch(ctx, userID)
	return s.reply(userID, report.Help), nil
}

// LogFood resolves a description and, when recognized, replaces the user's
// pending proposal with the new one.
func (s *Service) LogFood(ctx context.Context, userID int64, description string) (OutboundMessage, error) {
	s.touch(ctx, userID)
	description = strings.TrimSpace(description)
	if description == "" {
		return s.reply(userID, report.Rephrase), nil
	}

	release := s.lanes.lock(userID)
	defer release()

	res, err := s.resolver.Resolve(ctx, description)
	if err != nil {
		s.log.Warn("resolver failed", "user_id", userID, "error", err)
		return s.reply(userID, report.Failure), err
	}
	if res.Outcome != resolver.Recognized {
		s.log.Info("food not recognized", "user_id", userID)
		return s.reply(userID, report.Rephrase), nil
	}

	p := s.sessions.Propose(userID, description, res.Estimate)
	return OutboundMessage{UserID: userID, Text: report.Proposal(p), ProposalID: p.ID}, nil
}

// Confirm commits the pending proposal and shows today's running totals.
func (s *Service) Confirm(ctx context.Context, userID int64, proposalID string) (OutboundMessage, error) {
	s.touch(ctx, userID)
	release := s.lanes.lock(userID)
	defer release()

	entry, err := s.sessions.Confirm(ctx, userID, proposalID)
	switch {
	case errors.Is(err, models.ErrNoPendingProposal):
		return s.reply(userID, report.NothingToConfirm), err
	case err != nil:
		s.log.Error("confirm failed", "user_id", userID, "error", err)
		return s.reply(userID, report.Failure), err
	}

	totals, err := s.tally.Aggregate(ctx, userID, s.now())
	if err != nil {
		s.log.Warn("running totals unavailable", "user_id", userID, "error", err)
		return s.reply(userID, report.Saved(entry)), nil
	}
	return s.reply(userID, report.Committed(entry, totals)), nil
}

func (s *Service) Decline(ctx context.Context, userID int64, proposalID string) (OutboundMessage, error) {
	s.touch(ctx, userID)
	release := s.lanes.lock(userID)
	defer release()

	if _, err := s.sessions.Decline(userID, proposalID); err != nil {
		return s.reply(userID, report.NothingToConfirm), err
	}
	return s.reply(userID, report.Declined), nil
}

// Reset deletes the user's ledger entries and any pending proposal.
func (s *Service) Reset(ctx context.Context, userID int64) (OutboundMessage, error) {
	s.touch(ctx, userID)
	release := s.lanes.lock(userID)
	defer release()

	removed, err := s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		s.log.Error("reset failed", "user_id", userID, "error", err)
		return s.reply(userID, report.Failure), err
	}
	s.sessions.Discard(userID)
	s.log.Info("user reset", "user_id", userID, "removed", removed)
	return s.reply(userID, report.ResetDone(removed)), nil
}

func (s *Service) ShowTotals(ctx context.Context, userID int64) (OutboundMessage, error) {
	s.touch(ctx, userID)
	totals, err := s.tally.Aggregate(ctx, userID, s.now())
	if err != nil {
		s.log.Error("totals failed", "user_id", userID, "error", err)
		return s.reply(userID, report.Failure), err
	}
	return s.reply(userID, report.Today(totals)), nil
}

func (s *Service) EnableReports(ctx context.Context, userID int64) (OutboundMessage, error) {
	return s.setReports(ctx, userID, true)
}

func (s *Service) DisableReports(ctx context.Context, userID int64) (OutboundMessage, error) {
	return s.setReports(ctx, userID, false)
}

func (s *Service) setReports(ctx context.Context, userID int64, enabled bool) (OutboundMessage, error) {
	if _, err := s.store.SetReportsEnabled(ctx, userID, enabled); err != nil {
		s.log.Error("preference update failed", "user_id", userID, "enabled", enabled, "error", err)
		return s.reply(userID, report.Failure), err
	}
	s.known.Store(userID, struct{}{})
	if enabled {
		return s.reply(userID, report.ReportsEnabled), nil
	}
	return s.reply(userID, report.ReportsDisabled), nil
}

// SendReportNow delivers yesterday's report to this user through the same
// loop the scheduler uses.
func (s *Service) SendReportNow(ctx context.Context, userID int64) (OutboundMessage, error) {
	s.touch(ctx, userID)
	if s.reports == nil {
		return s.reply(userID, report.Failure), errors.New("report sender not configured")
	}
	run, err := s.reports.SendTo(ctx, userID)
	if err != nil {
		s.log.Error("manual report failed", "user_id", userID, "error", err)
		return s.reply(userID, report.Failure), err
	}
	if run.Delivered == 0 {
		return s.reply(userID, report.Failure), errors.New("report not delivered")
	}
	return s.reply(userID, report.ReportSent), nil
}

// Pending returns the user's live proposal, if any.
func (s *Service) Pending(userID int64) (models.PendingProposal, bool) {
	return s.sessions.Pending(userID)
}

// HasPending reports whether the user has a live proposal.
func (s *Service) HasPending(userID int64) bool {
	_, ok := s.Pending(userID)
	return ok
}

// touch records the user's preference row on first contact.
func (s *Service) touch(ctx context.Context, userID int64) {
	if _, seen := s.known.Load(userID); seen {
		return
	}
	if _, err := s.store.EnsurePreference(ctx, userID); err != nil {
		s.log.Warn("failed to ensure preference", "user_id", userID, "error", err)
		return
	}
	s.known.Store(userID, struct{}{})
}
