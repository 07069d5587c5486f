package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/ailink/driver"
	"github.com/pcroast/pcroast/internal/config"
	"github.com/pcroast/pcroast/internal/observability"
)

// BinaryName is the command name used in help text and logs.
const BinaryName = "pcroast"

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   BinaryName,
	Short: "PC build roast gateway",
	Long: `pcroast serves three rate-limited POST gates that turn a PC build
description into a one-paragraph roast, each gate bound to its own
generation credential, and keeps a CSV log of every roast served.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/pcroast.yaml or $HOME/.pcroast.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace upstream generation requests/responses to NDJSON file")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(BinaryName, verbose)

	if traceFile != "" {
		cleanup, err := driver.EnableTracing(traceFile)
		if err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Upstream tracing enabled", zap.String("file", traceFile))
			// Tracing stays on for the whole process; the file closes on exit.
			_ = cleanup
		}
	}

	config.SetDefaults(viper.GetViper())
	if err := config.BindEnv(viper.GetViper()); err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to bind environment", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		} else if verbose {
			observability.CLILogger.Warn("Could not find home directory", zap.Error(err))
		}
		viper.SetConfigName(BinaryName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		}
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if verbose {
				observability.CLILogger.Debug("No config file found, using defaults and environment variables")
			}
		} else if cfgFile != "" {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Error reading config file", err)
		} else if verbose {
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}
}

// loadConfig decodes the global viper state into a validated Config.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
