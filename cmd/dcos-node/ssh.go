package main

import (
	"github.com/spf13/cobra"

	"github.com/dcos/dcos-node/pkg/hop"
)

// sshCmd opens a shell on a node through the cluster's public entry point
func sshCmd(a *app) *cobra.Command {
	var (
		master     bool
		slaveID    string
		options    []string
		configFile string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "ssh (--master | --slave ID) [--option OPT]... [--config-file PATH] [--user USER]",
		Short: "Establish an SSH connection to the leading master or a slave node",
		Example: `  dcos-node ssh --master
  dcos-node ssh --slave 20150820-201234-16842879-5050-1234-S0 --user centos
  dcos-node ssh --master --option StrictHostKeyChecking=no --option UserKnownHostsFile=/dev/null`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !master && slaveID == "" {
				return errNoSource
			}
			// Before the config is read, so a missing agent is reported first
			if err := hop.RequireAgent(a.getenv); err != nil {
				return err
			}

			cfg, err := a.setup()
			if err != nil {
				return err
			}
			client, err := a.client(cfg)
			if err != nil {
				return err
			}

			role := hop.Master()
			if slaveID != "" {
				role = hop.Slave(slaveID)
			}
			if user == "" {
				user = cfg.Node.SSHUser
			}
			if configFile == "" {
				configFile = cfg.Node.SSHConfigFile
			}

			runner := a.runner
			if runner == nil {
				runner = hop.NewExecRunner(a.log)
			}
			builder := hop.NewBuilder(runner, hop.WithGetenv(a.getenv), hop.WithLogger(a.log))

			code, err := builder.Connect(cmd.Context(), client, hop.Request{
				Role:       role,
				User:       user,
				Options:    append(append([]string{}, cfg.Node.SSHOptions...), options...),
				ConfigFile: configFile,
			})
			if err != nil {
				return err
			}
			if code != 0 {
				return exitStatus(code)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&master, "master", false, "Connect to the leading master")
	cmd.Flags().StringVar(&slaveID, "slave", "", "Connect to the slave with this ID")
	cmd.Flags().StringArrayVar(&options, "option", nil, "SSH option passed as -o (repeatable)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Path to an SSH config file")
	cmd.Flags().StringVar(&user, "user", "", "SSH user (default: core)")
	cmd.MarkFlagsMutuallyExclusive("master", "slave")

	return cmd
}
