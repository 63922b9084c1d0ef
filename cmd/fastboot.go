package cmd

import (
	"errors"
	"log"

	"github.com/spf13/cobra"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/dispatch"
	"github.com/davidroman0O/dutssh/pkg/remote"
)

// NewFastbootCommand builds the fastboot-ssh root command. Every argument is
// passed through to fastboot, so the command defines no flags of its own;
// settings come from DUT_SSH_* environment variables only.
func NewFastbootCommand(env *Env) *cobra.Command {
	v := newViper(EnvPrefix, nil)

	return &cobra.Command{
		Use:                "fastboot-ssh [fastboot arguments...]",
		Short:              "Run fastboot on the host the target device is attached to",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(c *cobra.Command, args []string) error {
			setupLogging(env.Stderr, v.GetBool("debug") || v.GetBool("verbose"))

			cfg, err := loadConfig(env, v.GetString("config"), config.DUTConfigName)
			if err != nil {
				if !errors.Is(err, dterrors.ConfigNotFound) {
					return err
				}
				log.Printf("[FASTBOOT] %v", err)
				cfg = nil
			}

			exec := newExecutor(env)
			var transport remote.Transport
			if cfg != nil {
				transport, err = newTransport(cfg.SSH, exec)
				if err != nil {
					return err
				}
				defer transport.Close()
			}

			return dispatch.NewFastboot(cfg, transport, exec).Run(c.Context(), args)
		},
	}
}
