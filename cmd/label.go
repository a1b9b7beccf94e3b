package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <session_id> <label>",
	Short: "Attach a label to a recorded session (an id prefix is enough)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}

		id, err := db.LabelSession(cmd.Context(), args[0], args[1])
		if err != nil {
			return errors.Wrap(err, "failed to label session")
		}

		fmt.Printf("✅ Session %s labeled as '%s'\n", shortID(id), args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
