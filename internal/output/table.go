package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/threadgate/threadgate/internal/core/quota"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatAccounts renders one row per account with usage against caps.
func (f *TableFormatter) FormatAccounts(reports []AccountReport) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Account", "Tier", "Subscribed", "Coins", "Ops Today", "Daily Spend", "Monthly Spend", "Daily Reset"})

	for _, r := range reports {
		q := r.Account.Quota
		t.AppendRow(table.Row{
			r.Account.ID,
			r.Account.Tier,
			yesNo(r.Account.SubscriptionActive),
			q.Coins,
			strconv.Itoa(q.DailyOperationCount) + " / " + capInt(r.Limits.DailyOperationCap),
			money(q.DailySpend) + " / " + capMoney(r.Limits.DailySpendCap),
			money(q.MonthlySpend) + " / " + capMoney(r.Limits.MonthlySpendCap),
			timestamp(q.DailyOperationResetAt),
		})
	}
	if len(reports) > 1 {
		t.AppendFooter(table.Row{fmt.Sprintf("%d accounts", len(reports))})
	}
	return t.Render(), nil
}

// FormatLimits renders the limiter presets and the plan table.
func (f *TableFormatter) FormatLimits(report LimitsReport) (string, error) {
	classes := newTable()
	classes.SetTitle("Endpoint classes")
	classes.AppendHeader(table.Row{"Class", "Window", "Max Requests"})
	for _, c := range report.Classes {
		classes.AppendRow(table.Row{string(c.Class), c.Window.String(), c.MaxRequests})
	}

	plans := newTable()
	plans.SetTitle("Plans")
	plans.AppendHeader(table.Row{"Tier", "Daily Operations", "Daily Spend", "Monthly Spend"})
	for _, p := range report.Plans {
		plans.AppendRow(table.Row{p.Tier, capInt(p.DailyOperationCap), capMoney(p.DailySpendCap), capMoney(p.MonthlySpendCap)})
	}
	plans.AppendFooter(table.Row{"cost / 1K tokens", money(report.CostPer1KTokens), "timezone", report.Timezone})

	return classes.Render() + "\n\n" + plans.Render(), nil
}

// FormatUsage renders a recorded cost.
func (f *TableFormatter) FormatUsage(usage *quota.Usage) (string, error) {
	if usage == nil {
		return "", nil
	}
	t := newTable()
	t.AppendHeader(table.Row{"Account", "Tokens", "Cost", "Daily Spend", "Monthly Spend"})
	t.AppendRow(table.Row{usage.AccountID, usage.Tokens, money(usage.Cost), money(usage.DailySpend), money(usage.MonthlySpend)})
	return t.Render(), nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func capInt(v int) string {
	if v < 0 {
		return "unlimited"
	}
	return strconv.Itoa(v)
}

func capMoney(v float64) string {
	if v < 0 {
		return "unlimited"
	}
	return money(v)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
