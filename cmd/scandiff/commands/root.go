// Package commands implements the scandiff command line.
package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/censys/scandiff/pkg/config"
	"github.com/censys/scandiff/pkg/dal/sqlite"
	"github.com/censys/scandiff/pkg/logging"
	"github.com/censys/scandiff/pkg/service"
)

// ErrChangesDetected is returned by diff --quiet/--exit-code when the
// snapshots differ. It maps to exit status 1.
var ErrChangesDetected = errors.New("changes detected")

// app carries state shared by every subcommand for one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logrus.Logger
}

// NewRootCommand builds the scandiff command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "scandiff",
		Short: "Compare network scan snapshots of a host",
		Long: `scandiff stores point-in-time snapshots of a host's open services and
reports what changed between two of them: ports opened or closed, and
status, software, TLS or vulnerability changes on ports seen in both.

Examples:
  scandiff import scans/*.json scans/nmap.xml
  scandiff snapshots 192.168.1.1
  scandiff diff 3 7
  scandiff diff --from old.json --to new.json --format yaml
  scandiff diff --host 192.168.1.1 --quiet || echo "exposure changed"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $"+config.ConfigFileEnv+")")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("db", "", "path to the SQLite snapshot store")
	flags.String("protocol-policy", "", "how a protocol change on the same port is reported (modify, ignore, replace)")

	// BindPFlag only fails on a nil flag.
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("db_path", flags.Lookup("db"))
	_ = a.v.BindPFlag("diff.protocol_policy", flags.Lookup("protocol-policy"))

	root.AddCommand(
		newServeCommand(a),
		newImportCommand(a),
		newDiffCommand(a),
		newHostsCommand(a),
		newSnapshotsCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit status: 0 on success,
// 1 when diff found changes in quiet/exit-code mode, 2 on error.
func Execute(args []string, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if errors.Is(err, ErrChangesDetected) {
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func (a *app) init() error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// open returns a service backed by the configured store. The caller closes
// the returned store.
func (a *app) open() (*service.Service, *sqlite.Repository, error) {
	repo, err := sqlite.New(a.cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return service.New(repo, a.cfg.DiffOptions(), a.log), repo, nil
}
