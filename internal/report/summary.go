// Package report renders quote options for terminal output.
package report

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"freightq/internal/domain"
	"freightq/internal/ranking"
)

// FormatMoney formats an amount in its currency's conventional notation,
// e.g. "$1,550.00". Unknown currency codes fall back to "<amount> <code>".
func FormatMoney(amount decimal.Decimal, currencyCode string) string {
	c := money.GetCurrency(currencyCode)
	if c == nil {
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currencyCode)
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return money.New(minor, currencyCode).Display()
}

// FormatTransit formats a transit time in days, or "-" when unknown.
func FormatTransit(days *int) string {
	if days == nil {
		return "-"
	}
	if *days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", *days)
}

// FormatMarginPct formats a margin percentage with one decimal.
func FormatMarginPct(pct decimal.Decimal) string {
	return pct.StringFixed(1) + "%"
}

// OptionTable renders the options as a ranked plain-text table, best first.
// The selected option is marked with an asterisk.
func OptionTable(options []*domain.Option, selectedID string, c ranking.Criteria) string {
	ranked := ranking.Rank(options, c)

	var b strings.Builder
	fmt.Fprintf(&b, "%-3s %-24s %-18s %-10s %-8s %s\n",
		"#", "OPTION", "CARRIER", "TRANSIT", "MARGIN", "TOTAL SELL")
	for i, o := range ranked {
		name := o.Name
		if o.ID == selectedID {
			name += " *"
		}
		carrier := o.CarrierName
		if carrier == "" {
			carrier = "-"
		}
		fmt.Fprintf(&b, "%-3d %-24s %-18s %-10s %-8s %s\n",
			i+1, name, carrier,
			FormatTransit(o.TransitDays),
			FormatMarginPct(o.Totals.MarginPct),
			FormatMoney(o.Totals.TotalSell, o.Currency))
	}
	return b.String()
}

// OptionDetail renders one option with its legs and charge pairs.
func OptionDetail(o *domain.Option) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", o.Name, o.Currency)
	fmt.Fprintf(&b, "  carrier: %s  transit: %s  margin: %s\n",
		orDash(o.CarrierName), FormatTransit(o.TransitDays), FormatMarginPct(o.MarginPct))

	for i, leg := range o.Legs {
		fmt.Fprintf(&b, "  leg %d: %s %s -> %s\n", i+1, leg.Mode, orDash(leg.Origin), orDash(leg.Destination))
		writePairs(&b, "    ", leg.Charges, o.Currency)
	}
	if len(o.CombinedCharges) > 0 {
		b.WriteString("  combined:\n")
		writePairs(&b, "    ", o.CombinedCharges, o.Currency)
	}

	fmt.Fprintf(&b, "  buy %s  sell %s  margin %s\n",
		FormatMoney(o.Totals.TotalBuy, o.Currency),
		FormatMoney(o.Totals.TotalSell, o.Currency),
		FormatMoney(o.Totals.MarginAmount, o.Currency))
	return b.String()
}

func writePairs(b *strings.Builder, indent string, pairs []*domain.ChargePair, currency string) {
	for _, p := range pairs {
		if p.Empty() {
			continue
		}
		buy, sell := "-", "-"
		if p.Buy != nil {
			buy = FormatMoney(p.Buy.Quantity.Mul(p.Buy.Rate), currency)
		}
		if p.Sell != nil {
			sell = FormatMoney(p.Sell.Quantity.Mul(p.Sell.Rate), currency)
		}
		label := p.CategoryID
		if p.Note != "" {
			label += " (" + p.Note + ")"
		}
		fmt.Fprintf(b, "%s%-28s buy %-12s sell %s\n", indent, label, buy, sell)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
