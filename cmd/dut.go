package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/device"
	"github.com/davidroman0O/dutssh/pkg/dispatch"
)

// NewDUTCommand builds the dut-ssh root command
func NewDUTCommand(env *Env) *cobra.Command {
	var (
		configPath string
		verbose    bool
		list       bool
		schema     bool
	)

	cmd := &cobra.Command{
		Use:   "dut-ssh <device> <console|power_on|power_off|hard_reset>",
		Short: "Run a device action on the device's control host over SSH",
		Long: `Looks the device up by board name in dut-ssh.conf and runs the shell
command configured for the action on the device's host, as
ssh <host> "<command>". The exit status is the remote command's own.

The configuration is searched in $DUT_SSH_CONFIG (or --config),
./dut-ssh.conf and /etc/dut-ssh.conf.

Exit codes: 1 usage or unexpected fault, 2 unknown device, 3 unknown action,
4 no configuration file, 130 interrupted.`,
		Args:                  cobra.ArbitraryArgs,
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the device configuration (or set DUT_SSH_CONFIG)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log diagnostics to stderr (or set DUT_SSH_DEBUG=1)")
	flags.BoolVar(&list, "list", false, "List configured devices and their actions")
	flags.BoolVar(&schema, "schema", false, "Print the JSON schema of the configuration file")

	v := newViper(EnvPrefix, flags, "config", "verbose")

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return dterrors.Wrap(err, dterrors.ErrUsage, usage(c))
	})

	cmd.RunE = func(c *cobra.Command, args []string) error {
		setupLogging(env.Stderr, v.GetBool("verbose") || v.GetBool("debug"))

		if schema {
			data, err := config.Schema()
			if err != nil {
				return dterrors.Wrap(err, dterrors.ErrUnexpected, "failed to generate schema")
			}
			fmt.Fprintln(env.Stdout, string(data))
			return nil
		}

		if !list && len(args) < 2 {
			return dterrors.New(dterrors.ErrUsage, usage(c))
		}

		cfg, err := loadConfig(env, v.GetString("config"), config.DUTConfigName)
		if err != nil {
			return err
		}

		if list {
			fmt.Fprint(env.Stdout, cfg.Describe())
			return nil
		}

		transport, err := newTransport(cfg.SSH, newExecutor(env))
		if err != nil {
			return err
		}
		defer transport.Close()

		return dispatch.NewDUT(device.NewRegistry(cfg), transport).Run(c.Context(), args[0], args[1])
	}

	return cmd
}

func usage(c *cobra.Command) string {
	return "Usage: " + c.UseLine()
}
