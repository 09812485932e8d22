package commands

import (
	"fmt"
	"net/netip"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHostsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List hosts with stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			hosts, err := svc.ListHosts(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "HOST\tSNAPSHOTS")
			for _, h := range hosts {
				fmt.Fprintf(tw, "%s\t%d\n", h.IP, h.SnapshotCount)
			}
			return tw.Flush()
		},
	}
}

func newSnapshotsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots <host>",
		Short: "List a host's snapshots, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid IP address %q", args[0])
			}

			svc, repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			snaps, err := svc.ListByHost(cmd.Context(), addr.String())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIMESTAMP\tSERVICES\tFILENAME\tUPLOADED")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n",
					s.ID,
					s.Timestamp.Format(time.RFC3339),
					len(s.Services),
					s.Filename,
					s.UploadedAt.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}
