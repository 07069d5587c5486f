package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcroast/pcroast/internal/output"
	"github.com/pcroast/pcroast/internal/store"
)

var (
	rateLimitListOutput string
	rateLimitListOut    string
	rateLimitListOutDir string
	rateLimitListAll    bool
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}

		cfg, db, err := openRateLimitStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{
			All:    rateLimitListAll,
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		rows := output.RateLimitRows(entries, cfg.RateLimit.Max, cfg.RateLimit.Window, time.Now().UTC())

		outPath, err := resolveOutPath(rateLimitListOut, rateLimitListOutDir, "rate-limit.list", format)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			return output.WriteJSON(sink.writer, rows)
		}

		if len(rows) == 0 {
			_, err = fmt.Fprintln(sink.writer, "(no stored rate limit state)")
			return err
		}
		_, err = fmt.Fprintln(sink.writer, output.RateLimitTable(rows))
		return err
	},
}

// resolveOutPath turns --out/--out-dir into a single destination path.
func resolveOutPath(outFlag, outDirFlag, base string, format output.Format) (string, error) {
	outPath := strings.TrimSpace(outFlag)
	outDir := strings.TrimSpace(outDirFlag)
	if outPath != "" && outDir != "" {
		return "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	if outDir == "" {
		return outPath, nil
	}
	dir, err := ensureOutDir(outDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s", sanitizeFilename(base), outputExtension(format))), nil
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutDir, "out-dir", "", "Write output to a directory")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all clients")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List client addresses with matching prefix")
}
