// Package cli wires configuration, logging and telemetry to the archive
// pipeline behind cobra commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/config"
	"github.com/tweetarchive/tweets/pkg/logging"
	"github.com/tweetarchive/tweets/pkg/telemetry"
)

// app is the state shared by every command of one invocation
type app struct {
	cfg      *config.Config
	runID    string
	logger   *zap.Logger
	shutdown func()
}

var (
	cfgFile string
	verbose bool
	debug   bool
)

// NewRootCmd returns the root command of the tweets CLI
func NewRootCmd() *cobra.Command {
	a := &app{shutdown: func() {}}

	rootCmd := &cobra.Command{
		Use:           "tweets",
		Short:         "Process an unzipped social media archive",
		Long:          "tweets filters archived posts, resolves their shortened links, rebuilds their entities and writes JSON, CSV, text or grailbird output.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.tweets/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	flags.String("dir", ".", "unzipped archive directory")
	flags.String("dir-output", "", "directory for generated files (default is --dir)")
	flags.String("tweets-file", "tweet.js", "name of the records file inside the archive")
	flags.String("users-file", "users.json", "name of the user index file")
	flags.String("urls-file", "urls.json", "name of the url cache file")
	flags.Bool("test", false, "dry run: report changes without writing, renaming or deleting")
	flags.Bool("offline", false, "never contact remote hosts")
	flags.Bool("local", false, "associate media with local files")
	flags.String("path-prefix", "", "prefix replacing file:// in local media references")
	flags.String("log-format", "text", "log format: text|json")
	flags.String("redis-url", "", "optional redis url mirroring the url cache")
	flags.String("database-url", "", "optional postgres or sqlite url receiving records and users")
	flags.Bool("telemetry-enabled", false, "enable tracing and metrics")
	flags.String("jaeger-url", "", "jaeger collector endpoint")
	flags.Bool("prometheus-enabled", false, "expose metrics on the preview server")

	rootCmd.AddCommand(newProcessCmd(a))
	rootCmd.AddCommand(newResolveCmd(a))
	rootCmd.AddCommand(newUsersCmd(a))
	rootCmd.AddCommand(newCountCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newMissingMediaCmd(a))
	rootCmd.AddCommand(newDupesCmd(a))
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

// flagKey maps a flag name onto its configuration key, e.g. dir-output -> dir_output
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// bindFlags exposes every flag of cmd to viper under its configuration key
func bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		switch f.Name {
		case "config", "verbose", "debug", "help":
			return
		}
		if bindErr := viper.BindPFlag(flagKey(f.Name), f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

func (a *app) init(cmd *cobra.Command) error {
	if err := bindFlags(cmd); err != nil {
		return fmt.Errorf("failed binding flags: %w", err)
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logging.InitLogger(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose || debug {
		logging.SetVerbosity(verbose, debug)
	}

	a.runID = uuid.NewString()
	a.logger = logging.WithRunID(a.runID).With(zap.String("command", cmd.Name()))

	shutdown, err := telemetry.Init(&cfg.Telemetry, a.runID)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.shutdown = shutdown

	a.logger.Debug("Configuration loaded",
		zap.String("dir", cfg.Archive.Dir),
		zap.String("dir_output", cfg.Archive.OutputDir),
		zap.Bool("dry_run", cfg.DryRun))
	return nil
}
