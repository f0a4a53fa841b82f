package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"kubeheal-backend/internal/config"
	"kubeheal-backend/internal/logging"
)

type rootOptions struct {
	configFile string
	server     string
	logLevel   string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "kubehealctl",
		Short:         "Inspect and remediate pod anomalies detected by kubeheal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "kubeheal config file (YAML)")
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "kubeheal server URL")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	opts.v.SetEnvPrefix(config.EnvPrefix)
	opts.v.AutomaticEnv()
	_ = opts.v.BindPFlag("server", flags.Lookup("server"))
	_ = opts.v.BindPFlag("log_level", flags.Lookup("log-level"))

	cmd.AddCommand(
		newReplayCmd(opts),
		newTopCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// serverURL honours KUBEHEAL_SERVER when --server is not given.
func (o *rootOptions) serverURL() string {
	return o.v.GetString("server")
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	return logging.New(o.v.GetString("log_level"), true)
}
