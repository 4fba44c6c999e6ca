package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dcos/dcos-node/pkg/hop"
	"github.com/dcos/dcos-node/pkg/mesos"
	"github.com/dcos/dcos-node/pkg/tail"
)

var errNoSource = errors.New("You must choose one of --master or --slave.")

// logCmd prints and optionally follows the master and slave logs
func logCmd(a *app) *cobra.Command {
	var (
		follow  bool
		lines   string
		master  bool
		slaveID string
	)

	cmd := &cobra.Command{
		Use:   "log [--follow] [--lines N] [--master] [--slave ID]",
		Short: "Print the Mesos logs for the leading master node, slave nodes, or both",
		Example: `  dcos-node log --master
  dcos-node log --slave 20150820-201234-16842879-5050-1234-S0 --lines 100
  dcos-node log --follow --master --slave 20150820-201234-16842879-5050-1234-S0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !master && slaveID == "" {
				return errNoSource
			}
			n, err := tail.ParseLines(lines)
			if err != nil {
				return err
			}

			cfg, err := a.setup()
			if err != nil {
				return err
			}
			interval, err := cfg.Node.PollDuration()
			if err != nil {
				return err
			}
			client, err := a.client(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var files []tail.RemoteFile
			if master {
				files = append(files, client.MasterFile(mesos.MasterLogPath))
			}
			if slaveID != "" {
				slave, err := hop.FindSlave(ctx, slaveID, client)
				if err != nil {
					return err
				}
				f, err := client.SlaveFile(slave, mesos.SlaveLogPath)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			mux := tail.NewMultiplexer(a.stdout, tail.Options{
				PollInterval: interval,
				MaxFailures:  cfg.Node.MaxPollFailures,
				InitialChunk: cfg.Node.InitialChunk,
				Clock:        a.clock,
				Logger:       a.log,
			})

			err = mux.Run(ctx, tail.Request{Lines: n, Follow: follow, Files: files})
			if errors.Is(err, context.Canceled) {
				// interrupted while following
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Output data as the file grows")
	cmd.Flags().StringVarP(&lines, "lines", "n", "10", "Output the last N lines")
	cmd.Flags().BoolVar(&master, "master", false, "Print the leading master's log")
	cmd.Flags().StringVar(&slaveID, "slave", "", "Print the log of the slave with this ID")

	return cmd
}
