// internal/models/nutrient.go
package models

import (
	"time"
)

// NutrientEstimate is what the resolver produced for one food description.
type NutrientEstimate struct {
	ProteinG     float64 `json:"protein_g"`
	CarbsG       float64 `json:"carbs_g"`
	FatG         float64 `json:"fat_g"`
	CaloriesKcal float64 `json:"calories_kcal"`
}

// PendingProposal is an estimate waiting for the user's yes/no.
type PendingProposal struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"user_id"`
	Description string           `json:"description"`
	Estimate    NutrientEstimate `json:"estimate"`
	CreatedAt   time.Time        `json:"created_at"`
}

// LedgerEntry is an immutable committed record.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Description  string    `json:"description"`
	ProteinG     float64   `json:"protein_g"`
	CarbsG       float64   `json:"carbs_g"`
	FatG         float64   `json:"fat_g"`
	CaloriesKcal float64   `json:"calories_kcal"`
	CommittedAt  time.Time `json:"committed_at"`
}

// NewLedgerEntry builds the entry committed for a confirmed proposal.
func NewLedgerEntry(p PendingProposal, committedAt time.Time) LedgerEntry {
	return LedgerEntry{
		UserID:       p.UserID,
		Description:  p.Description,
		ProteinG:     p.Estimate.ProteinG,
		CarbsG:       p.Estimate.CarbsG,
		FatG:         p.Estimate.FatG,
		CaloriesKcal: p.Estimate.CaloriesKcal,
		CommittedAt:  committedAt,
	}
}

// UserPreference holds the per-user report opt-in flag.
type UserPreference struct {
	UserID         int64     `json:"user_id"`
	ReportsEnabled bool      `json:"reports_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Totals are field-wise sums over ledger entries.
type Totals struct {
	ProteinG     float64 `json:"protein_g"`
	CarbsG       float64 `json:"carbs_g"`
	FatG         float64 `json:"fat_g"`
	CaloriesKcal float64 `json:"calories_kcal"`
}

// Add accumulates one entry into t.
func (t *Totals) Add(e LedgerEntry) {
	t.ProteinG += e.ProteinG
	t.CarbsG += e.CarbsG
	t.FatG += e.FatG
	t.CaloriesKcal += e.CaloriesKcal
}

// DailyReport is one user's itemized day.
type DailyReport struct {
	UserID  int64         `json:"user_id"`
	Date    string        `json:"date"` // YYYY-MM-DD in the reporting timezone
	Entries []LedgerEntry `json:"entries"`
	Totals  Totals        `json:"totals"`
}

// RunTrigger tells why a report run happened.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
	TriggerCatchUp   RunTrigger = "catch_up"
)

// ReportRun is one row of the report run ledger.
type ReportRun struct {
	ID         int64      `json:"id"`
	Date       string     `json:"date"`
	Trigger    RunTrigger `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Audience   int        `json:"audience"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
}
