package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"replaylog/pkg/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "replaylog",
		Short:         "Segmented append-only log with timed replay",
		Long:          "replaylog stores JSON values in a segmented log, streams them back and replays them with their original pacing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			initLogger(&a.cfg, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the YAML config")

	root.AddCommand(
		newServeCmd(a),
		newAppendCmd(a),
		newHistoryCmd(a),
		newTailCmd(a),
		newReplayCmd(a),
	)
	return root
}
