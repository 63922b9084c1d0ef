package cmd

import (
	"io"

	"github.com/spf13/cobra"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/config"
	"github.com/davidroman0O/dutssh/pkg/device"
	"github.com/davidroman0O/dutssh/pkg/lava"
)

// LAVAEnvPrefix prefixes the server settings of lava-health
// (LAVA_HOST, LAVA_USERNAME, LAVA_TOKEN, LAVA_WORKER).
const LAVAEnvPrefix = "LAVA"

// NewHealthCommand builds the lava-health root command
func NewHealthCommand(env *Env) *cobra.Command {
	var (
		configPath string
		host       string
		username   string
		token      string
		worker     string
		dryRun     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "lava-health",
		Short: "Reset the lab's devices marked Bad on a LAVA server to UNKNOWN",
		Long: `Lists the devices of a LAVA server over XML-RPC and, for every device in
fastboot-ssh.conf with a lava_hostname that the server reports as Bad, sets
its health to UNKNOWN so that LAVA schedules a new health check.

Server settings come from flags, then LAVA_* environment variables, then the
lava section of the configuration file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the device configuration (or set DUT_SSH_CONFIG)")
	flags.StringVar(&host, "host", "", "LAVA server host name (or set LAVA_HOST)")
	flags.StringVar(&username, "username", "", "LAVA user name (or set LAVA_USERNAME)")
	flags.StringVar(&token, "token", "", "LAVA API token (or set LAVA_TOKEN)")
	flags.StringVar(&worker, "worker", "", "Worker host name to assign (or set LAVA_WORKER)")
	flags.BoolVar(&dryRun, "dry-run", false, "Print the devices that would be reset")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log diagnostics to stderr (or set DUT_SSH_DEBUG=1)")

	v := newViper(LAVAEnvPrefix, flags, "host", "username", "token", "worker", "dry-run", "config", "verbose")
	_ = v.BindEnv("config", config.EnvConfigPath)
	_ = v.BindEnv("debug", EnvPrefix+"_DEBUG")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		setupLogging(env.Stderr, v.GetBool("verbose") || v.GetBool("debug"))

		cfg, err := loadConfig(env, v.GetString("config"), config.FastbootConfigName)
		if err != nil {
			return err
		}

		endpoint := lava.Endpoint{
			Scheme:   cfg.LAVA.Scheme,
			Host:     firstNonEmpty(v.GetString("host"), cfg.LAVA.Host),
			Username: firstNonEmpty(v.GetString("username"), cfg.LAVA.Username),
			Token:    firstNonEmpty(v.GetString("token"), cfg.LAVA.Token),
		}
		if endpoint.Host == "" {
			return dterrors.New(dterrors.ErrUsage, "no LAVA server: set --host, LAVA_HOST or lava.host")
		}

		scheduler, err := newScheduler(endpoint)
		if err != nil {
			return err
		}
		if closer, ok := scheduler.(io.Closer); ok {
			defer closer.Close()
		}

		reset := &lava.HealthReset{
			Scheduler: scheduler,
			Registry:  device.NewRegistry(cfg),
			Worker:    firstNonEmpty(v.GetString("worker"), cfg.LAVA.Worker),
			Reason:    cfg.LAVA.Reason,
			DryRun:    v.GetBool("dry-run"),
			Out:       env.Stdout,
		}
		_, err = reset.Run(c.Context())
		return err
	}

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
