// Package report renders the bot's replies and the daily summary.
package report

import (
	"fmt"
	"strings"

	"nutribot/internal/models"
)

const Help = "Olá! Eu sou seu assistente de contagem de calorias e macronutrientes. 🥗\n" +
	"Envie uma descrição do alimento e quantidade (ex: '2 bananas') ou grave um áudio.\n" +
	"Antes de registrar eu mostro a estimativa e você confirma com Sim ou Não.\n\n" +
	"Comandos:\n" +
	"/totais - total consumido hoje\n" +
	"/reset - apaga todos os seus registros\n" +
	"/relatorio_on - ativa o relatório diário\n" +
	"/relatorio_off - desativa o relatório diário\n" +
	"/relatorio_agora - envia o relatório de ontem agora\n" +
	"/ajuda - mostra esta mensagem"

const (
	Rephrase         = "🤔 Não reconheci esse alimento. Pode descrever de outro jeito, com a quantidade? (ex: '2 bananas')"
	Failure          = "⚠️ Não consegui processar agora. Tente novamente em instantes."
	NothingToConfirm = "Não há nada para confirmar. Envie um alimento primeiro."
	Declined         = "❌ Ok, não registrei. Envie o alimento de novo se quiser corrigir."
	ReportsEnabled   = "📬 Relatório diário ativado."
	ReportsDisabled  = "📭 Relatório diário desativado."
	ReportSent       = "📨 Relatório de ontem enviado."
	VoiceNoText      = "🎙️ Não consegui entender o áudio. Tente de novo ou envie por texto."
)

// Proposal is the estimate shown before the user confirms.
func Proposal(p models.PendingProposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🍽️ '%s' - Estimativa:\n", p.Description)
	writeEstimate(&b, p.Estimate.ProteinG, p.Estimate.CarbsG, p.Estimate.FatG, p.Estimate.CaloriesKcal)
	b.WriteString("\nConfirma o registro?")
	return b.String()
}

// Committed acknowledges a confirmed entry and shows today's running totals.
func Committed(e models.LedgerEntry, today models.Totals) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ '%s' - Informação Nutricional:\n", e.Description)
	writeEstimate(&b, e.ProteinG, e.CarbsG, e.FatG, e.CaloriesKcal)
	b.WriteString("\n🔢 Total consumido hoje:\n")
	writeTotals(&b, today)
	return b.String()
}

// Saved acknowledges a confirmed entry when today's totals are unavailable.
func Saved(e models.LedgerEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ '%s' - Informação Nutricional:\n", e.Description)
	writeEstimate(&b, e.ProteinG, e.CarbsG, e.FatG, e.CaloriesKcal)
	return strings.TrimSuffix(b.String(), "\n")
}

// Today renders the /totais reply.
func Today(t models.Totals) string {
	var b strings.Builder
	b.WriteString("🔢 Total consumido hoje:\n")
	writeTotals(&b, t)
	return b.String()
}

func VoiceEcho(text string) string {
	return "🎙️ Entendi: " + text
}

func ResetDone(removed int64) string {
	switch removed {
	case 0:
		return "🔄 Você não tinha registros. Comece quando quiser!"
	case 1:
		return "🔄 1 registro apagado. Comece novamente!"
	default:
		return fmt.Sprintf("🔄 %d registros apagados. Comece novamente!", removed)
	}
}

// Daily is the scheduled summary: the itemized list, or a notice that
// nothing was logged, followed by the totals block.
func Daily(r models.DailyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Relatório de %s\n\n", displayDate(r.Date))
	if len(r.Entries) == 0 {
		b.WriteString("Nada registrado neste dia.\n")
	} else {
		for i, e := range r.Entries {
			fmt.Fprintf(&b, "%d. %s - %s kcal | P %s g | C %s g | G %s g\n",
				i+1, e.Description, num(e.CaloriesKcal), num(e.ProteinG), num(e.CarbsG), num(e.FatG))
		}
	}
	b.WriteString("\n🔢 Total do dia:\n")
	writeTotals(&b, r.Totals)
	return b.String()
}

func writeEstimate(b *strings.Builder, p, c, f, k float64) {
	fmt.Fprintf(b, "Calorias: %s kcal\n", num(k))
	fmt.Fprintf(b, "Proteínas: %s g\n", num(p))
	fmt.Fprintf(b, "Carboidratos: %s g\n", num(c))
	fmt.Fprintf(b, "Gorduras: %s g\n", num(f))
}

func writeTotals(b *strings.Builder, t models.Totals) {
	fmt.Fprintf(b, "Calorias: %s kcal\n", num(t.CaloriesKcal))
	fmt.Fprintf(b, "Proteínas: %s g\n", num(t.ProteinG))
	fmt.Fprintf(b, "Carboidratos: %s g\n", num(t.CarbsG))
	fmt.Fprintf(b, "Gorduras: %s g", num(t.FatG))
}

func num(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// displayDate turns 2006-01-02 into 02/01/2006.
func displayDate(d string) string {
	parts := strings.Split(d, "-")
	if len(parts) != 3 {
		return d
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}
