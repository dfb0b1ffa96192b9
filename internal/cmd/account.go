package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/quota"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/output"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts and their allowances",
	Long: `Create and inspect accounts in the configured account store.

With store.backend=memory accounts only live for the duration of the command;
use the libsql backend for persistent administration.`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create an account on a plan tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tier, _ := cmd.Flags().GetString("tier")
		coins, _ := cmd.Flags().GetInt("coins")
		subscribed, _ := cmd.Flags().GetBool("subscribed")

		if coins < 0 {
			return fmt.Errorf("--coins must be non-negative")
		}

		rt, err := loadServices(ctx, false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		tier = strings.ToLower(strings.TrimSpace(tier))
		limits, ok := rt.ledger.Plans.Plan(tier)
		if !ok {
			return fmt.Errorf("%w: %q", quota.ErrUnknownPlan, tier)
		}

		now := time.Now().UTC()
		acct := &core.Account{
			ID:                 strings.TrimSpace(args[0]),
			Tier:               tier,
			SubscriptionActive: subscribed,
			Quota:              core.QuotaState{Coins: coins},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := rt.accounts.CreateAccount(ctx, acct); err != nil {
			return err
		}
		observability.CLILogger.Info("Account created",
			zap.String("account_id", acct.ID),
			zap.String("tier", tier),
			zap.Int("coins", coins),
			zap.Bool("subscribed", subscribed))

		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatAccounts([]output.AccountReport{{Account: *acct, Limits: limits}})
		})
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an account with counters rolled over to now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		acct, limits, err := rt.ledger.Snapshot(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatAccounts([]output.AccountReport{{Account: *acct, Limits: limits}})
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		tier = strings.ToLower(strings.TrimSpace(tier))

		rt, err := loadServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		accounts, err := rt.accounts.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

		reports := make([]output.AccountReport, 0, len(accounts))
		for _, acct := range accounts {
			if tier != "" && acct.Tier != tier {
				continue
			}
			limits, _ := rt.ledger.Plans.Plan(acct.Tier)
			reports = append(reports, output.AccountReport{Account: acct, Limits: limits})
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatAccounts(reports)
		})
	},
}

var accountSubscribeCmd = &cobra.Command{
	Use:   "subscribe <id>",
	Short: "Set whether an account's subscription is active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _ := cmd.Flags().GetBool("active")
		return adjustAccount(cmd, args[0], func(acct *core.Account) error {
			acct.SubscriptionActive = active
			return nil
		})
	},
}

var accountCoinsCmd = &cobra.Command{
	Use:   "coins <id>",
	Short: "Grant or remove coins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, _ := cmd.Flags().GetInt("add")
		return adjustAccount(cmd, args[0], func(acct *core.Account) error {
			acct.Quota.Coins = max(acct.Quota.Coins+delta, 0)
			return nil
		})
	},
}

var accountTierCmd = &cobra.Command{
	Use:   "tier <id> <tier>",
	Short: "Move an account to another plan tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier := strings.ToLower(strings.TrimSpace(args[1]))
		return adjustAccount(cmd, args[0], func(acct *core.Account) error {
			acct.Tier = tier
			return nil
		}, tier)
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadServices(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		if err := rt.accounts.DeleteAccount(cmd.Context(), args[0]); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return err
	},
}

// adjustAccount applies fn under the ledger's account lock and prints the
// result. requireTier, when given, must name a configured plan.
func adjustAccount(cmd *cobra.Command, id string, fn func(*core.Account) error, requireTier ...string) error {
	rt, err := loadServices(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	for _, tier := range requireTier {
		if _, ok := rt.ledger.Plans.Plan(tier); !ok {
			return fmt.Errorf("%w: %q", quota.ErrUnknownPlan, tier)
		}
	}

	acct, err := rt.ledger.Adjust(cmd.Context(), id, fn)
	if err != nil {
		return err
	}
	limits, _ := rt.ledger.Plans.Plan(acct.Tier)
	return render(cmd, func(f output.Formatter) (string, error) {
		return f.FormatAccounts([]output.AccountReport{{Account: *acct, Limits: limits}})
	})
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd, accountShowCmd, accountListCmd, accountSubscribeCmd,
		accountCoinsCmd, accountTierCmd, accountDeleteCmd)

	accountCreateCmd.Flags().String("tier", "free", "plan tier")
	accountCreateCmd.Flags().Int("coins", 0, "initial coin balance")
	accountCreateCmd.Flags().Bool("subscribed", false, "mark the subscription active")
	accountListCmd.Flags().String("tier", "", "only list accounts on this tier")
	accountSubscribeCmd.Flags().Bool("active", true, "subscription state")
	accountCoinsCmd.Flags().Int("add", 0, "coins to add (negative to remove)")

	for _, c := range []*cobra.Command{accountCreateCmd, accountShowCmd, accountListCmd, accountSubscribeCmd, accountCoinsCmd, accountTierCmd} {
		addOutputFlags(c)
	}
}
