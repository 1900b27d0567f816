package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerCells = cellStyle.Bold(true).Foreground(highlight)
)

// RenderLadder draws the safety order ladder as a table, one row per rung,
// preceded by a line describing the base order.
func RenderLadder(l *domain.Ladder) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(subtle)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCells
			}
			return cellStyle
		}).
		Headers("#", "Deviation %", "Price", "Qty", "Total qty", "Avg price", "Sell at", "Change %", "Profit")

	for _, r := range l.Rungs {
		t.Row(
			strconv.Itoa(r.Number),
			r.Deviation.String(),
			r.Price.String(),
			r.Quantity.String(),
			r.CumulativeQuantity.String(),
			r.AveragePrice.Round(l.PriceDecimals).String(),
			r.RequiredPrice.String(),
			r.RequiredChange.StringFixed(2),
			r.Profit.StringFixed(4),
		)
	}

	var b strings.Builder
	b.WriteString(stepStyle.Render(fmt.Sprintf("%s base order: %s @ %s, take profit %s%%",
		l.Pair, l.BaseQuantity, l.BasePrice, l.TargetProfit)))
	b.WriteString("\n")
	b.WriteString(t.Render())

	return b.String()
}
