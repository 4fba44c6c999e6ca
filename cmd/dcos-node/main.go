package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcos/dcos-node/pkg/config"
	"github.com/dcos/dcos-node/pkg/hop"
	"github.com/dcos/dcos-node/pkg/logger"
	"github.com/dcos/dcos-node/pkg/mesos"
	"github.com/dcos/dcos-node/pkg/nodes"
	"github.com/dcos/dcos-node/pkg/tail"
)

var Version = "dev" // Set at build time

const description = "Manage DCOS nodes"

// exitStatus carries a child's exit status out of a command without a message.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// app holds the streams, flags and collaborators shared by all subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	runner hop.Runner // nil selects hop.NewExecRunner
	clock  tail.Clock // nil selects the wall clock

	configPath string
	logLevel   string

	store *config.Store
	log   *logger.Logger
}

func newApp() *app {
	return &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], newApp())
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, a *app) int {
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var status exitStatus
	if errors.As(err, &status) {
		return int(status)
	}
	fmt.Fprintln(a.stderr, err)
	return 1
}

func newRootCmd(a *app) *cobra.Command {
	var (
		info    bool
		jsonOut bool
	)

	rootCmd := &cobra.Command{
		Use:     "dcos-node",
		Short:   description,
		Version: Version,
		Long: `dcos-node - Inspect the nodes of a DC/OS cluster

Examples:
  dcos-node
  dcos-node --json
  dcos-node log --master --lines 50
  dcos-node log --follow --master --slave 20150820-201234-16842879-5050-1234-S0
  dcos-node ssh --slave 20150820-201234-16842879-5050-1234-S0 --option StrictHostKeyChecking=no`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if info {
				fmt.Fprintln(a.stdout, description)
				return nil
			}
			return a.listNodes(cmd.Context(), jsonOut)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (default: ~/.dcos/dcos.toml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warning, error (default: warning)")
	rootCmd.Flags().BoolVar(&info, "info", false, "Print a short description of this command")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full node objects as JSON")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(logCmd(a))
	rootCmd.AddCommand(sshCmd(a))
	rootCmd.AddCommand(versionCmd(a))

	return rootCmd
}

// setup loads the configuration and builds the logger. Called by each
// command before it does any work.
func (a *app) setup() (*config.Config, error) {
	if a.store == nil {
		store, err := config.New(a.configPath)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	cfg := a.store.GetConfig()
	a.log = a.newLogger(cfg.Log)
	a.log.Debug("using config %s", a.store.Path())
	return cfg, nil
}

func (a *app) newLogger(cfg config.LogConfig) *logger.Logger {
	level := cfg.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if (cfg.Output == "" || cfg.Output == "stderr") && a.stderr != io.Writer(os.Stderr) {
		return logger.NewWriter(a.stderr, logger.ParseLogLevel(level))
	}
	return logger.New(&logger.Config{
		Level:    level,
		Output:   cfg.Output,
		NoColor:  cfg.NoColor,
		ShowTime: cfg.ShowTime,
	})
}

func (a *app) client(cfg *config.Config) (*mesos.Client, error) {
	return mesos.NewClient(
		mesos.Endpoints{
			DCOSURL:        cfg.Core.DCOSURL,
			MesosMasterURL: cfg.Core.MasterURL(),
		},
		mesos.WithTimeout(cfg.Core.HTTPTimeout()),
		mesos.WithToken(cfg.Core.ACSToken),
		mesos.WithLogger(a.log),
	)
}

func (a *app) listNodes(ctx context.Context, jsonOut bool) error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	client, err := a.client(cfg)
	if err != nil {
		return err
	}

	slaves, err := client.StateSummary(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		return nodes.WriteJSON(a.stdout, slaves)
	}
	if len(slaves) == 0 {
		fmt.Fprintln(a.stderr, "No slaves found.")
		return nil
	}

	width := 0
	if f, ok := a.stdout.(*os.File); ok {
		width = nodes.TerminalWidth(f)
	}
	return nodes.WriteTable(a.stdout, slaves, width)
}

// versionCmd returns version command
func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dcos-node",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "dcos-node version %s\n", Version)
		},
	}
}
