package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/quota"
)

func sampleReports() []AccountReport {
	reset := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	return []AccountReport{
		{
			Account: core.Account{
				ID:   "acct-1",
				Tier: "free",
				Quota: core.QuotaState{
					DailyOperationCount:   2,
					DailyOperationResetAt: reset,
					DailySpend:            0.25,
					Coins:                 3,
				},
			},
			Limits: core.PlanLimits{Tier: "free", DailyOperationCap: 3, DailySpendCap: 0.5, MonthlySpendCap: 5},
		},
		{
			Account: core.Account{ID: "acct-2", Tier: "business", SubscriptionActive: true},
			Limits:  core.PlanLimits{Tier: "business", DailyOperationCap: -1, DailySpendCap: 25, MonthlySpendCap: -1},
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestTableFormatterAccounts(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatAccounts(sampleReports())
	require.NoError(t, err)

	assert.Contains(t, rendered, "acct-1")
	assert.Contains(t, rendered, "2 / 3")
	assert.Contains(t, rendered, "0.2500 / 0.5000")
	assert.Contains(t, rendered, "unlimited")
	assert.Contains(t, rendered, "2026-03-15T00:00:00Z")
	assert.Contains(t, rendered, "2 ACCOUNTS")
}

func TestJSONFormatterAccounts(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatAccounts(sampleReports())
	require.NoError(t, err)

	var decoded []AccountReport
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, 3, decoded[0].Account.Quota.Coins)
	assert.True(t, decoded[1].Account.SubscriptionActive)
}

func TestYAMLFormatterUsesJSONNames(t *testing.T) {
	usage := &quota.Usage{AccountID: "acct-1", Tier: "pro", Tokens: 1200, Cost: 0.0024, DailySpend: 1.5}
	rendered, err := NewFormatter(FormatYAML).FormatUsage(usage)
	require.NoError(t, err)

	assert.Contains(t, rendered, "account_id: acct-1")
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	assert.Equal(t, 1200, decoded["tokens"])
}

func TestFormatLimits(t *testing.T) {
	report := LimitsReport{
		Classes: []ClassLimit{
			NewClassLimit(core.ClassGeneration, core.WindowConfig{Window: time.Minute, MaxRequests: 10}),
			NewClassLimit(core.ClassAuth, core.WindowConfig{Window: 15 * time.Minute, MaxRequests: 5}),
		},
		Plans:           []core.PlanLimits{{Tier: "free", DailyOperationCap: 3, DailySpendCap: 0.5, MonthlySpendCap: 5}},
		CostPer1KTokens: 0.002,
		Timezone:        "UTC",
	}

	table, err := NewFormatter(FormatTable).FormatLimits(report)
	require.NoError(t, err)
	assert.Contains(t, table, "generation")
	assert.Contains(t, table, "15m0s")
	assert.Contains(t, table, "free")

	js, err := NewFormatter(FormatJSON).FormatLimits(report)
	require.NoError(t, err)
	assert.True(t, strings.Contains(js, `"window": "1m0s"`))
	assert.False(t, strings.Contains(js, "Window\""))
}
