package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/store"
	"github.com/threadgate/threadgate/internal/output"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and adjust account quota usage",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show quota usage against plan limits",
	Args:  cobra.ExactArgs(1),
	RunE:  accountShowCmd.RunE,
}

var quotaRecordCmd = &cobra.Command{
	Use:   "record <id>",
	Short: "Book the cost of a completed operation",
	Long: `Book the cost of a completed operation against an account's daily and
monthly spend. Recording never rejects; a crossed cap blocks the next admission.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, _ := cmd.Flags().GetInt64("tokens")
		if tokens < 0 {
			return fmt.Errorf("--tokens must be non-negative")
		}

		rt, err := loadServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		usage, err := rt.gate.Complete(cmd.Context(), args[0], tokens)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatUsage(usage)
		})
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear usage counters (coins and subscriptions are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		id, _ := cmd.Flags().GetString("id")
		tier, _ := cmd.Flags().GetString("tier")
		q := store.AccountQuery{All: all, ID: id, Tier: tier}
		if err := q.Validate(); err != nil {
			return err
		}

		rt, err := loadServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		var affected int64
		if rt.db != nil {
			affected, err = rt.db.ResetUsage(cmd.Context(), q)
		} else {
			affected, err = resetViaLedger(cmd, rt, q)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %d account(s)\n", affected)
		return err
	},
}

func resetViaLedger(cmd *cobra.Command, rt *services, q store.AccountQuery) (int64, error) {
	accounts, err := rt.accounts.ListAccounts(cmd.Context())
	if err != nil {
		return 0, err
	}
	var affected int64
	for _, acct := range accounts {
		if !queryMatches(q, acct) {
			continue
		}
		_, err := rt.ledger.Adjust(cmd.Context(), acct.ID, func(a *core.Account) error {
			a.Quota = core.QuotaState{Coins: a.Quota.Coins}
			return nil
		})
		if err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

func queryMatches(q store.AccountQuery, acct core.Account) bool {
	switch {
	case q.All:
		return true
	case strings.TrimSpace(q.ID) != "":
		return acct.ID == strings.TrimSpace(q.ID)
	default:
		return acct.Tier == strings.ToLower(strings.TrimSpace(q.Tier))
	}
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaShowCmd, quotaRecordCmd, quotaResetCmd)

	quotaRecordCmd.Flags().Int64("tokens", 0, "tokens consumed by the operation")
	_ = quotaRecordCmd.MarkFlagRequired("tokens")

	quotaResetCmd.Flags().Bool("all", false, "reset every account")
	quotaResetCmd.Flags().String("id", "", "reset one account")
	quotaResetCmd.Flags().String("tier", "", "reset every account on a tier")

	addOutputFlags(quotaShowCmd)
	addOutputFlags(quotaRecordCmd)
}
