// Package harness stages each scenario's artifacts, runs them as jobs one
// after another and prints their output.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"

	"github.com/matthewmarion/batchboy/internal/config"
	"github.com/matthewmarion/batchboy/internal/orchestrator"
)

type Uploader interface {
	UploadArtifacts(ctx context.Context, container string, patterns []string) ([]string, error)
}

type JobRunner interface {
	RunAndGetOutput(ctx context.Context, container string) (*orchestrator.Output, error)
}

type Harness struct {
	uploader  Uploader
	runner    JobRunner
	scenarios []config.Scenario
	out       io.Writer
	success   *color.Color
}

func New(uploader Uploader, runner JobRunner, scenarios []config.Scenario, out io.Writer) *Harness {
	return &Harness{
		uploader:  uploader,
		runner:    runner,
		scenarios: scenarios,
		out:       out,
		success:   color.New(color.FgGreen),
	}
}

// Run uploads every scenario before running any, then runs them in order.
// The first failure stops the run.
func (h *Harness) Run(ctx context.Context) error {
	for _, s := range h.scenarios {
		names, err := h.uploader.UploadArtifacts(ctx, s.Name, s.Files)
		if err != nil {
			return fmt.Errorf("staging scenario %s: %w", s.Name, err)
		}
		slog.Info("scenario staged", "scenario", s.Name, "files", names)
	}

	for _, s := range h.scenarios {
		out, err := h.runner.RunAndGetOutput(ctx, s.Name)
		if err != nil {
			return fmt.Errorf("running scenario %s: %w", s.Name, err)
		}
		h.success.Fprintf(h.out, "=== %s (job %s) ===\n%s\n", s.Name, out.JobID, FormatOutput(out))
	}
	return nil
}

// FormatOutput renders a task's result for the console.
func FormatOutput(out *orchestrator.Output) string {
	s := fmt.Sprintf("Output:\n\n%s\n\nError:\n\n%s\n\nExit code: %d", out.Stdout, out.Stderr, out.ExitCode)
	if out.FailureInfo != "" {
		s += "\nFailure: " + out.FailureInfo
	}
	return s
}
