package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"smartflow/internal/domain"
	"smartflow/internal/signallog"
	"smartflow/internal/toolclient"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func renderStats(s signallog.Stats) string {
	rows := [][]string{
		{"total", strconv.Itoa(s.TotalSignals)},
		{"acted on", strconv.Itoa(s.ActedOn)},
		{"skipped", strconv.Itoa(s.Skipped)},
		{"with outcome", strconv.Itoa(s.WithOutcome)},
		{"profitable", strconv.Itoa(s.ProfitableCount)},
		{"win rate", fmt.Sprintf("%.1f%%", s.WinRate*100)},
		{"avg score", fmt.Sprintf("%.2f", s.AvgScore)},
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Signal log"))
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"METRIC", "VALUE"}, rows))
	if len(s.ByChain) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"CHAIN", "SIGNALS"}, countRows(s.ByChain)))
	}
	if len(s.ByMode) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"MODE", "SIGNALS"}, countRows(s.ByMode)))
	}
	return b.String()
}

func countRows(m map[string]int) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(m[k])})
	}
	return rows
}

func renderSignals(records []domain.LoggedSignal) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID,
			string(r.Type),
			tokenLabel(r.OpportunitySignal),
			r.Chain,
			fmt.Sprintf("%.1f", r.Score),
			r.LoggedAt.Format("2006-01-02 15:04"),
			actionLabel(r),
			pnlLabel(r.Outcome),
		})
	}
	return renderTable([]string{"ID", "TYPE", "TOKEN", "CHAIN", "SCORE", "LOGGED", "ACTION", "PNL"}, rows)
}

func renderTools(tools []toolclient.ToolInfo) string {
	rows := make([][]string, 0, len(tools))
	for _, t := range tools {
		rows = append(rows, []string{t.Name, strconv.Itoa(t.Credits), t.Description})
	}
	return renderTable([]string{"TOOL", "CREDITS", "DESCRIPTION"}, rows)
}

func tokenLabel(s domain.OpportunitySignal) string {
	if s.Symbol != "" {
		return s.Symbol
	}
	if len(s.Token) > 12 {
		return s.Token[:6] + "…" + s.Token[len(s.Token)-4:]
	}
	return s.Token
}

func actionLabel(r domain.LoggedSignal) string {
	if r.Outcome == nil || r.Outcome.Action == "" {
		return "-"
	}
	return string(r.Outcome.Action)
}

func pnlLabel(o *domain.Outcome) string {
	if o == nil || o.PnL == nil {
		return "-"
	}
	label := fmt.Sprintf("%+.2f", *o.PnL)
	if o.PnLPercent != nil {
		label += fmt.Sprintf(" (%+.1f%%)", *o.PnLPercent)
	}
	if *o.PnL > 0 {
		return gainStyle.Render(label)
	}
	if *o.PnL < 0 {
		return lossStyle.Render(label)
	}
	return label
}
