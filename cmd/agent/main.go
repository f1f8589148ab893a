package main

import (
	"fmt"
	"os"

	"github.com/Hara602/hostSentry/internal/config"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type app struct {
	configFile string
	cfg        *config.Config
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "hostsentry",
		Short:         "Host activity telemetry agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default /etc/hostsentry/config.yaml)")

	root.AddCommand(
		newRunCmd(a),
		newPublishCmd(a),
		newDrivesCmd(a),
		newEventsCmd(a),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) load() error {
	if err := config.Init(a.configFile); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if _, err := sysutil.InitLogger(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	a.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hostsentry",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hostsentry %s\n", version)
			fmt.Printf("  Commit:    %s\n", commit)
		},
	}
}
