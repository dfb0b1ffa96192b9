package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/threadgate/threadgate/internal/config"
	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/limiter"
	"github.com/threadgate/threadgate/internal/output"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show endpoint class windows and plan limits in effect",
	Long: `Show the effective limiter presets (after overrides and safety margin) and
the plan limits, including any plans file. Use --plans-yaml to print the plans
in the plans-file format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}

		if asPlans, _ := cmd.Flags().GetBool("plans-yaml"); asPlans {
			data, err := config.MarshalPlans(cfg.Quota.Plans)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		report, err := buildLimitsReport(cfg)
		if err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatLimits(report)
		})
	},
}

func buildLimitsReport(cfg *config.Config) (output.LimitsReport, error) {
	loc, err := cfg.Quota.Location()
	if err != nil {
		return output.LimitsReport{}, err
	}

	lim := limiter.New(nil)
	lim.ApplyOverrides(cfg.Limiter.WindowConfigs())
	lim.ApplySafetyMargin(cfg.Limiter.SafetyMargin)

	report := output.LimitsReport{
		CostPer1KTokens: cfg.Quota.CostPer1KTokens,
		Timezone:        loc.String(),
	}
	for _, class := range core.EndpointClasses {
		report.Classes = append(report.Classes, output.NewClassLimit(class, lim.Preset(class)))
	}

	plans := cfg.Quota.PlanLimits()
	tiers := make([]string, 0, len(plans))
	for tier := range plans {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		report.Plans = append(report.Plans, plans[tier])
	}
	return report, nil
}

func init() {
	rootCmd.AddCommand(limitsCmd)
	limitsCmd.Flags().Bool("plans-yaml", false, "print plans in plans-file YAML format")
	addOutputFlags(limitsCmd)
}
