package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	resetLedger bool
	resetFiles  bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (session ledger, saved visualizations)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetLedger && !resetFiles {
			resetLedger = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetLedger {
			if resetYes || confirm(os.Stdout, reader, "⚠️  Are you sure you want to DROP the session ledger?") {
				db, err := openStore(cmd.Context(), true)
				if err != nil {
					return err
				}
				fmt.Println("🗑️  Clearing Session Ledger...")
				if err := db.Reset(cmd.Context()); err != nil {
					return errors.Wrap(err, "failed to reset database")
				}
			}
		}

		if resetFiles {
			if resetYes || confirm(os.Stdout, reader, fmt.Sprintf("⚠️  Are you sure you want to delete everything in %s?", Cfg.OutputDir)) {
				fmt.Println("🗑️  Clearing Output Files (Visualizations, Charts)...")
				removeDir(Cfg.OutputDir)
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Clear the PostgreSQL session ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated files in the output directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(w io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if path == "" || path == "/" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
