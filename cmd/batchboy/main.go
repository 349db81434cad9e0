package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/matthewmarion/batchboy/internal/artifact"
	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/config"
	"github.com/matthewmarion/batchboy/internal/harness"
	"github.com/matthewmarion/batchboy/internal/logging"
	"github.com/matthewmarion/batchboy/internal/orchestrator"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "batchboy failed: %v\n", err)
	}
	waitForEnter()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batchboy",
		Short: "Stage a console program in blob storage and run it on the batch service",
		Long: `batchboy uploads the task program of each scenario to blob storage, submits
it as a single-task job to the batch service, waits for it to finish and prints
its stdout and stderr.

All settings come from BATCHBOY_* environment variables; scenarios can be
overridden with a scenarios.yaml file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadHarness()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := batch.Dial(cfg.BatchEndpoint, batch.NewSharedKeyCredentials(cfg.BatchAccountName, cfg.BatchAccountKey))
	if err != nil {
		return err
	}
	defer client.Close()

	uploader := artifact.NewUploader(store, afero.NewOsFs(), cfg.ArtifactDir)
	resolver := artifact.NewResolver(store, cfg.ReferenceTTL)
	runner := orchestrator.NewRunner(client, resolver, orchestrator.RunnerConfig{
		PoolID:      cfg.PoolID,
		PoolVMSize:  cfg.PoolVMSize,
		PoolNodes:   cfg.PoolNodes,
		CommandLine: cfg.TaskCommand,
		Timeout:     cfg.JobTimeout,
	})

	return harness.New(uploader, runner, cfg.Scenarios, color.Output).Run(ctx)
}

func waitForEnter() {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return
	}
	fmt.Print("Press ENTER to quit")
	bufio.NewReader(os.Stdin).ReadString('\n')
}
