package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/ailink/prompt"
	"github.com/pcroast/pcroast/internal/config"
	"github.com/pcroast/pcroast/internal/observability"
	"github.com/pcroast/pcroast/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check configuration, gate bindings, the audit log location and the rate limit backend before serving.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger := observability.CLILogger
		logger.Info("=== " + BinaryName + " doctor ===")
		logger.Info("")

		allChecks := true
		totalChecks := 6

		// Check 1: Go and library versions
		version := crucible.GetVersion()
		logger.Info(fmt.Sprintf("[1/%d] Checking runtime... ✅ %s %s/%s (gofulmen %s)", totalChecks, runtime.Version(), runtime.GOOS, runtime.GOARCH, version.Gofulmen),
			zap.String("go_version", runtime.Version()),
			zap.String("gofulmen_version", version.Gofulmen))

		// Check 2: Configuration
		cfg, err := loadConfig()
		if err != nil {
			logger.Error(fmt.Sprintf("[2/%d] Checking configuration... ❌ %v", totalChecks, err))
			logger.Warn("⚠️  Remaining checks need a valid configuration.")
			return
		}
		source := "defaults and environment"
		if used := viper.ConfigFileUsed(); used != "" {
			source = used
		}
		logger.Info(fmt.Sprintf("[2/%d] Checking configuration... ✅ %s", totalChecks, source))

		// Check 3: Gate bindings
		pool, err := ailink.NewPool(cfg.AILink, nil)
		if err != nil {
			logger.Error(fmt.Sprintf("[3/%d] Checking gate bindings... ❌ %v", totalChecks, err))
			allChecks = false
		} else {
			bindings := pool.Describe()
			missing := 0
			for _, b := range bindings {
				if !b.HasKey {
					missing++
				}
			}
			if missing == 0 {
				logger.Info(fmt.Sprintf("[3/%d] Checking gate bindings... ✅ %d gates bound", totalChecks, len(bindings)))
			} else {
				logger.Warn(fmt.Sprintf("[3/%d] Checking gate bindings... ⚠️  %d gate(s) without an API key", totalChecks, missing))
				allChecks = false
			}
			fmt.Fprintln(cmd.OutOrStdout(), output.BindingTable(bindings))
		}

		// Check 4: Prompt
		if _, err := prompt.LoadFile(cfg.AILink.PromptFile); err != nil {
			logger.Error(fmt.Sprintf("[4/%d] Checking prompt... ❌ %v", totalChecks, err))
			allChecks = false
		} else if cfg.AILink.PromptFile != "" {
			logger.Info(fmt.Sprintf("[4/%d] Checking prompt... ✅ %s", totalChecks, cfg.AILink.PromptFile))
		} else {
			logger.Info(fmt.Sprintf("[4/%d] Checking prompt... ✅ built-in", totalChecks))
		}

		// Check 5: Audit log location
		if err := checkAuditPath(cfg.Audit.Path); err != nil {
			logger.Error(fmt.Sprintf("[5/%d] Checking audit log... ❌ %v", totalChecks, err),
				zap.String("audit_path", cfg.Audit.Path))
			allChecks = false
		} else {
			abs, _ := filepath.Abs(cfg.Audit.Path)
			logger.Info(fmt.Sprintf("[5/%d] Checking audit log... ✅ %s", totalChecks, abs),
				zap.String("audit_path", abs))
		}

		// Check 6: Rate limit backend
		if cfg.RateLimit.Backend != config.BackendLibsql {
			logger.Info(fmt.Sprintf("[6/%d] Checking rate limit backend... ✅ memory (%d per %s)", totalChecks, cfg.RateLimit.Max, cfg.RateLimit.Window))
		} else {
			db, err := openStore(ctx, cfg)
			if err != nil {
				logger.Error(fmt.Sprintf("[6/%d] Checking rate limit backend... ❌ libsql: %v", totalChecks, err))
				allChecks = false
			} else {
				defer db.Close() //nolint:errcheck
				logger.Info(fmt.Sprintf("[6/%d] Checking rate limit backend... ✅ libsql (%d per %s)", totalChecks, cfg.RateLimit.Max, cfg.RateLimit.Window))
			}
		}

		logger.Info("")
		if allChecks {
			logger.Info("✅ All checks passed! Ready to serve.")
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		logger.Info("")
		logger.Info("=== End Diagnostics ===")
	},
}

// checkAuditPath reports whether the audit log can be appended to without
// creating it.
func checkAuditPath(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("%s is a directory", path)
	case err == nil:
		// #nosec G302 G304 -- audit path comes from operator configuration
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	case !os.IsNotExist(err):
		return err
	}

	dir := filepath.Dir(path)
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("audit directory: %w", err)
	}
	if !dirInfo.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
