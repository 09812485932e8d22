package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/processor"
	"github.com/censys/scandiff/pkg/render"
	"github.com/censys/scandiff/pkg/service"
	"github.com/censys/scandiff/pkg/snapshot"
)

type diffOptions struct {
	from, to string
	host     string
	format   string
	noColor  bool
	quiet    bool
	exitCode bool
}

func newDiffCommand(a *app) *cobra.Command {
	var opts diffOptions

	cmd := &cobra.Command{
		Use:   "diff [<old-id> <new-id>]",
		Short: "Show what changed between two snapshots of a host",
		Long: `Diff compares two snapshots of the same host. They can be stored snapshot ids,
snapshot files given with --from/--to, or the two most recent snapshots of
--host. The earlier capture is always treated as the old side.`,
		Example: `  scandiff diff 3 7
  scandiff diff --from old.json --to new.json --format json
  scandiff diff --host 192.168.1.1 --quiet`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.loadReport(cmd, args, opts)
			if err != nil {
				return err
			}

			if !opts.quiet {
				format, err := render.ParseFormat(opts.format)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				noColor := opts.noColor || !render.IsTerminal(out)
				r, err := render.New(format, noColor)
				if err != nil {
					return err
				}
				if err := r.Render(out, report); err != nil {
					return fmt.Errorf("render: %w", err)
				}
			}

			if (opts.quiet || opts.exitCode) && report.HasChanges() {
				return ErrChangesDetected
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.from, "from", "", "old snapshot file (.json or single-host nmap .xml)")
	f.StringVar(&opts.to, "to", "", "new snapshot file")
	f.StringVar(&opts.host, "host", "", "diff the two most recent stored snapshots of this host")
	f.StringVarP(&opts.format, "format", "o", "text", "output format (text, json, yaml)")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print nothing; exit 1 if the snapshots differ")
	f.BoolVar(&opts.exitCode, "exit-code", false, "exit 1 if the snapshots differ")
	return cmd
}

func (a *app) loadReport(cmd *cobra.Command, args []string, opts diffOptions) (*diff.DiffReport, error) {
	fileMode := opts.from != "" || opts.to != ""
	switch {
	case fileMode && (opts.from == "" || opts.to == ""):
		return nil, fmt.Errorf("--from and --to must be used together")
	case fileMode && (len(args) > 0 || opts.host != ""):
		return nil, fmt.Errorf("--from/--to cannot be combined with ids or --host")
	case fileMode:
		old, err := readSnapshotFile(opts.from)
		if err != nil {
			return nil, err
		}
		new, err := readSnapshotFile(opts.to)
		if err != nil {
			return nil, err
		}
		return service.New(nil, a.cfg.DiffOptions(), a.log).Compare(old, new)
	case opts.host != "" && len(args) > 0:
		return nil, fmt.Errorf("--host cannot be combined with snapshot ids")
	case opts.host == "" && len(args) != 2:
		return nil, fmt.Errorf("expected two snapshot ids, --host, or --from/--to")
	}

	svc, repo, err := a.open()
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	if opts.host != "" {
		return svc.Latest(cmd.Context(), opts.host)
	}

	ids := make([]int64, 2)
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid snapshot id %q", arg)
		}
		ids[i] = id
	}
	return svc.Diff(cmd.Context(), ids[0], ids[1])
}

func readSnapshotFile(path string) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	snaps, err := processor.Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(snaps) != 1 {
		return nil, fmt.Errorf("%s: holds %d host snapshots, expected 1", path, len(snaps))
	}
	return snaps[0], nil
}
