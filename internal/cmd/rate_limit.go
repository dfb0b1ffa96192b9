package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/threadgate/threadgate/internal/core"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset limiter windows",
	Long: `Inspect and reset limiter windows for a caller identity. Most useful with
limiter.backend=redis, where windows are shared with running servers.`,
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Show a caller's window per endpoint class without counting a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classes, err := selectedClasses(cmd)
		if err != nil {
			return err
		}

		rt, err := loadServices(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetTitle(fmt.Sprintf("%s (%s backend)", args[0], rt.limiterBackend()))
		t.AppendHeader(table.Row{"Class", "Limit", "Remaining", "Resets"})
		for _, class := range classes {
			d, err := rt.limiter.Status(cmd.Context(), args[0], class)
			if err != nil {
				return err
			}
			resets := "-"
			if !d.ResetAt.IsZero() {
				resets = d.ResetAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			t.AppendRow(table.Row{string(class), d.Limit, d.Remaining, resets})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return err
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Clear a caller's windows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classes, err := selectedClasses(cmd)
		if err != nil {
			return err
		}
		class, _ := cmd.Flags().GetString("class")
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if class == "" && !yes && !dryRun {
			return errors.New("resetting every class requires --yes (or use --dry-run)")
		}

		rt, err := loadServices(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		for _, c := range classes {
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would reset %s:%s\n", c, args[0])
				continue
			}
			if err := rt.limiter.Reset(cmd.Context(), args[0], c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s:%s\n", c, args[0])
		}
		return nil
	},
}

func selectedClasses(cmd *cobra.Command) ([]core.EndpointClass, error) {
	value, _ := cmd.Flags().GetString("class")
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return core.EndpointClasses, nil
	}
	class := core.EndpointClass(value)
	if !class.Valid() {
		return nil, fmt.Errorf("unknown endpoint class %q", value)
	}
	return []core.EndpointClass{class}, nil
}

func init() {
	rootCmd.AddCommand(rateLimitCmd)
	rateLimitCmd.AddCommand(rateLimitStatusCmd, rateLimitResetCmd)

	for _, c := range []*cobra.Command{rateLimitStatusCmd, rateLimitResetCmd} {
		c.Flags().String("class", "", "endpoint class (generation, auth, api, admin); default all")
	}
	rateLimitResetCmd.Flags().Bool("yes", false, "confirm resetting every class")
	rateLimitResetCmd.Flags().Bool("dry-run", false, "print what would be reset")
}
