package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/threadgate/threadgate/internal/appid"
	"github.com/threadgate/threadgate/internal/config"
	"github.com/threadgate/threadgate/internal/observability"
	"github.com/threadgate/threadgate/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records link-time build metadata for the CLI and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the app identity (only valid after initConfig)
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Request admission and usage-quota control",
	Long: `threadgate decides whether a request to an AI generation endpoint may
proceed: a fixed-window limiter per caller, then per-account spend ceilings
and operation allowances (coins, subscription, plan daily limit).

Use the subcommands to serve the admission API or administer accounts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet until serve installs the real telemetry system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if identity, err := appid.Get(context.Background()); err == nil {
		appIdentity = identity
		rootCmd.Use = identity.BinaryName
		rootCmd.Short = identity.Description
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s)", displayConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func displayConfigPath() string {
	if path := config.DefaultConfigPath(); path != "" {
		return path
	}
	return "$XDG_CONFIG_HOME/threadgate/config.yaml"
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to resolve app identity", err)
	}
	appIdentity = identity

	observability.InitCLILogger(identity.BinaryName, verbose)
	logger := observability.CLILogger

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if dir := gfconfig.GetAppConfigDir(identity.ConfigName); dir != "" {
			viper.AddConfigPath(dir)
		} else if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, "."+identity.ConfigName))
		}
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(appid.ViperEnvPrefix(identity))
	viper.AutomaticEnv()

	// viper only locates and parses the user file here; config.Load layers it
	// over the defaults and validates the result.
	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		config.SetUserConfigFile(viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
		logger.Debug("No config file found, using defaults and environment variables")
	} else {
		ExitWithCode(logger, foundry.ExitConfigInvalid, "Failed to read config file", err)
	}
}
