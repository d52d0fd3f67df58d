package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"smartflow/internal/domain"
	"smartflow/internal/signallog"
)

const operatorBrief = `You are the analyst for an on-chain smart-money signal desk. Scanners log opportunity signals (accumulation, distribution, smart money buys and sells, netflow spikes, holder surges) and the operator records what they did and how it turned out. Your role is to interpret that log, NOT to generate or score signals yourself.

Rules:
- Always reference specific signals by token, chain, mode and score.
- Never fabricate data. If the log is empty or a figure is missing, say so.
- Call out which modes and chains are producing wins and which are not, using the recorded pnl.
- Flag high-score signals that have not been acted on yet.
- Keep responses concise and actionable. The operator reads this on Telegram.
- Do not add financial advice disclaimers. The operator understands this is informational.`

func BuildSystemPrompt(signalContext string) string {
	var sb strings.Builder
	sb.WriteString(operatorBrief)
	sb.WriteString("\n\n--- SIGNAL LOG (as of ")
	sb.WriteString(time.Now().UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(signalContext)
	return sb.String()
}

// FormatSignalContext renders log statistics and records for the prompt.
func FormatSignalContext(stats *signallog.Stats, records []domain.LoggedSignal) string {
	var sb strings.Builder

	if stats != nil && stats.TotalSignals > 0 {
		sb.WriteString("\nLog Stats:\n")
		sb.WriteString(fmt.Sprintf("  total=%d acted=%d skipped=%d with_outcome=%d win_rate=%.0f%% avg_score=%.2f\n",
			stats.TotalSignals, stats.ActedOn, stats.Skipped, stats.WithOutcome, stats.WinRate*100, stats.AvgScore))
		sb.WriteString("  by_chain: " + formatCounts(stats.ByChain) + "\n")
		sb.WriteString("  by_mode: " + formatCounts(stats.ByMode) + "\n")
	}

	if len(records) > 0 {
		sb.WriteString("\nRecent Signals:\n")
		for _, r := range records {
			name := r.Token
			if r.Symbol != "" {
				name = r.Symbol + " " + r.Token
			}
			sb.WriteString(fmt.Sprintf("  %s %s %s score=%.1f", r.ID, r.Chain, strings.ToUpper(string(r.Type)), r.Score))
			sb.WriteString(" " + name)
			if r.Acted && r.Outcome != nil {
				sb.WriteString(" acted=" + string(r.Outcome.Action))
				if r.Outcome.PnLPercent != nil {
					sb.WriteString(fmt.Sprintf(" pnl=%+.2f%%", *r.Outcome.PnLPercent))
				} else if r.Outcome.PnL != nil {
					sb.WriteString(fmt.Sprintf(" pnl=%+.4f", *r.Outcome.PnL))
				}
			}
			if r.Reason != "" {
				sb.WriteString(" " + r.Reason)
			}
			sb.WriteString("\n")
		}
	}

	if sb.Len() == 0 {
		return "No signals logged yet."
	}
	return sb.String()
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
