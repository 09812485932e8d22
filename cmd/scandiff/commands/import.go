package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/censys/scandiff/pkg/dal"
)

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import snapshot JSON files or nmap XML reports into the store",
		Long: `Import reads each file and stores the snapshots it contains. JSON files hold
one snapshot; nmap XML reports yield one snapshot per host that was up.
A snapshot already stored for the same host and timestamp is skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			out := cmd.OutOrStdout()
			var imported, skipped int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}

				stored, err := svc.Ingest(cmd.Context(), path, data)
				for _, s := range stored {
					fmt.Fprintf(out, "imported #%d %s %s (%d services) from %s\n",
						s.ID, s.Host, s.Timestamp.Format(time.RFC3339), len(s.Services), path)
				}
				imported += len(stored)
				switch {
				case errors.Is(err, dal.ErrConflict):
					fmt.Fprintf(out, "skipped %s: %v\n", path, err)
					skipped++
				case err != nil:
					return fmt.Errorf("import %s: %w", path, err)
				}
			}

			fmt.Fprintf(out, "%d imported, %d skipped\n", imported, skipped)
			return nil
		},
	}
}
