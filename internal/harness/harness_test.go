package harness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"

	"github.com/matthewmarion/batchboy/internal/artifact"
	"github.com/matthewmarion/batchboy/internal/config"
	"github.com/matthewmarion/batchboy/internal/orchestrator"
)

type recorder struct {
	calls     []string
	uploadErr error
	runErr    error
}

func (r *recorder) UploadArtifacts(ctx context.Context, container string, patterns []string) ([]string, error) {
	r.calls = append(r.calls, "upload "+container+" "+strings.Join(patterns, ","))
	return patterns, r.uploadErr
}

func (r *recorder) RunAndGetOutput(ctx context.Context, container string) (*orchestrator.Output, error) {
	r.calls = append(r.calls, "run "+container)
	if r.runErr != nil {
		return nil, r.runErr
	}
	return &orchestrator.Output{JobID: "job-" + container, Stdout: "hi from " + container}, nil
}

func init() {
	color.NoColor = true
}

func TestRun_UploadsAllThenRunsInOrder(t *testing.T) {
	rec := &recorder{}
	var buf bytes.Buffer
	h := New(rec, rec, config.DefaultScenarios(), &buf)

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{
		"upload with-config batchtask,batchtask.yaml",
		"upload without-config batchtask",
		"run with-config",
		"run without-config",
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "Output:\n\nhi from with-config\n\nError:\n\n") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRun_StopsOnFirstError(t *testing.T) {
	rec := &recorder{uploadErr: &artifact.NoMatchingFilesError{Dir: "./bin", Patterns: []string{"batchtask"}}}
	h := New(rec, rec, config.DefaultScenarios(), &bytes.Buffer{})

	err := h.Run(context.Background())
	var nm *artifact.NoMatchingFilesError
	if !errors.As(err, &nm) {
		t.Fatalf("Run() error = %v, want NoMatchingFilesError", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls = %v, want only the first upload", rec.calls)
	}
}

func TestRun_PropagatesTimeout(t *testing.T) {
	rec := &recorder{runErr: &orchestrator.JobTimeoutError{JobID: "job-x", TaskID: "main"}}
	h := New(rec, rec, config.DefaultScenarios(), &bytes.Buffer{})

	var te *orchestrator.JobTimeoutError
	if err := h.Run(context.Background()); !errors.As(err, &te) {
		t.Errorf("Run() error = %v, want JobTimeoutError", err)
	}
}

func TestFormatOutput(t *testing.T) {
	got := FormatOutput(&orchestrator.Output{Stdout: "out", Stderr: "err", ExitCode: 1, FailureInfo: "resource file download failed"})
	want := "Output:\n\nout\n\nError:\n\nerr\n\nExit code: 1\nFailure: resource file download failed"
	if got != want {
		t.Errorf("FormatOutput() = %q, want %q", got, want)
	}
}
