package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nutribot/internal/models"
)

func TestProposal_ShowsEstimateWithTwoDecimals(t *testing.T) {
	msg := Proposal(models.PendingProposal{
		Description: "2 bananas",
		Estimate:    models.NutrientEstimate{ProteinG: 2.6, CarbsG: 54, FatG: 0.8, CaloriesKcal: 210},
	})

	assert.Contains(t, msg, "'2 bananas'")
	assert.Contains(t, msg, "Calorias: 210.00 kcal")
	assert.Contains(t, msg, "Proteínas: 2.60 g")
	assert.Contains(t, msg, "Carboidratos: 54.00 g")
	assert.Contains(t, msg, "Gorduras: 0.80 g")
	assert.Contains(t, msg, "Confirma")
}

func TestCommitted_IncludesRunningTotals(t *testing.T) {
	msg := Committed(
		models.LedgerEntry{Description: "arroz", ProteinG: 2.5, CarbsG: 28, FatG: 0.3, CaloriesKcal: 130},
		models.Totals{ProteinG: 10, CarbsG: 100, FatG: 5, CaloriesKcal: 500.556},
	)

	assert.Contains(t, msg, "✅ 'arroz'")
	assert.Contains(t, msg, "Total consumido hoje")
	assert.Contains(t, msg, "Calorias: 500.56 kcal")
}

func TestDaily_ItemizedList(t *testing.T) {
	msg := Daily(models.DailyReport{
		Date: "2026-05-03",
		Entries: []models.LedgerEntry{
			{Description: "2 bananas", ProteinG: 2.6, CarbsG: 54, FatG: 0.8, CaloriesKcal: 210},
			{Description: "1 ovo", ProteinG: 6, CarbsG: 0.6, FatG: 5, CaloriesKcal: 70},
		},
		Totals: models.Totals{ProteinG: 8.6, CarbsG: 54.6, FatG: 5.8, CaloriesKcal: 280},
	})

	assert.Contains(t, msg, "03/05/2026")
	assert.Contains(t, msg, "1. 2 bananas - 210.00 kcal")
	assert.Contains(t, msg, "2. 1 ovo - 70.00 kcal")
	assert.Contains(t, msg, "Calorias: 280.00 kcal")
	assert.NotContains(t, msg, "Nada registrado")
}

func TestDaily_NothingLogged(t *testing.T) {
	msg := Daily(models.DailyReport{Date: "2026-05-03", Entries: []models.LedgerEntry{}})

	assert.Contains(t, msg, "Nada registrado")
	assert.Contains(t, msg, "Calorias: 0.00 kcal")
}

func TestResetDone(t *testing.T) {
	assert.Contains(t, ResetDone(0), "não tinha registros")
	assert.Contains(t, ResetDone(1), "1 registro apagado")
	assert.Contains(t, ResetDone(7), "7 registros apagados")
}
