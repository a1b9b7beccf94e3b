package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/vigil/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded live sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		records, err := db.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return errors.Wrap(err, "failed to list sessions")
		}
		printSessions(os.Stdout, records)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Maximum number of sessions to show (0 = all)")
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, records []store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSOURCE\tFRAMES\tANALYSES\tFAILED\tLIMITED\tEVERY\tREASON\tLABEL")
	fmt.Fprintln(w, "--\t-------\t--------\t------\t------\t--------\t------\t-------\t-----\t------\t-----")

	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			shortID(r.ID),
			r.Started.Local().Format("2006-01-02 15:04"),
			r.Ended.Sub(r.Started).Round(time.Second),
			r.Source, r.Frames, r.Analyses, r.Failures, r.RateLimited, r.CadenceN, r.Reason, r.Label)
	}
	w.Flush()
}
