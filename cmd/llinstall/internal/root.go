package internal

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/goplus/llinstall/internal/config"
)

// Version is set via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "llinstall"})
)

var rootCmd = &cobra.Command{
	Use:   "llinstall",
	Short: "llinstall builds a formula into an isolated prefix",
	Long: `llinstall resolves a formula's stable or head channel, fetches and builds its
source into an isolated prefix, writes a launcher that fixes the runtime
environment and smoke-tests it.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/llinstall/config.yaml)")
	flags.String("work-dir", "", "workspace for sources, installs and launchers")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and stream build output")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	cfg = c
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
