package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matthewmarion/batchboy/internal/state"
)

// Executor runs a task.
type Executor interface {
	// Run materializes the task's resource files and executes its command
	// line, recording the result on the task. It returns once the task has
	// completed and is intended to be called in a goroutine. Cancelling ctx
	// terminates the task.
	Run(ctx context.Context, task *state.Task)
}

// prepare creates the task directories, fetches the resource files and
// splits the command line. local reports whether the program is one of the
// materialized files, in which case args[0] is its absolute path in the
// working directory and it has been made executable.
func prepare(ctx context.Context, fetcher Fetcher, task *state.Task) (args []string, local bool, err error) {
	if err := os.MkdirAll(task.WorkingDir(), 0o755); err != nil {
		return nil, false, fmt.Errorf("creating working directory: %w", err)
	}
	if err := Materialize(ctx, fetcher, task.WorkingDir(), task.ResourceFiles); err != nil {
		return nil, false, err
	}

	args, err = splitCommandLine(task.CommandLine)
	if err != nil {
		return nil, false, err
	}
	if len(args) == 0 {
		return nil, false, errors.New("empty command line")
	}

	if filepath.IsLocal(args[0]) {
		path, err := filepath.Abs(filepath.Join(task.WorkingDir(), args[0]))
		if err != nil {
			return nil, false, fmt.Errorf("resolving %s: %w", args[0], err)
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			if err := os.Chmod(path, 0o755); err != nil {
				return nil, false, fmt.Errorf("making %s executable: %w", args[0], err)
			}
			args[0] = path
			local = true
		}
	}
	return args, local, nil
}

func createOutputs(task *state.Task) (stdout, stderr *os.File, err error) {
	stdout, err = os.Create(task.OutputPath(state.StdoutFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout file: %w", err)
	}
	stderr, err = os.Create(task.OutputPath(state.StderrFileName))
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("creating stderr file: %w", err)
	}
	return stdout, stderr, nil
}

// taskEnv is the environment every task sees in addition to its own.
func taskEnv(task *state.Task, workingDir string) []string {
	env := []string{
		"BATCH_POOL_ID=" + task.PoolID,
		"BATCH_JOB_ID=" + task.JobID,
		"BATCH_TASK_ID=" + task.ID,
		"BATCH_TASK_WORKING_DIR=" + workingDir,
	}
	for k, v := range task.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// splitCommandLine splits a command line into words. Single quotes keep
// their content literally, double quotes allow backslash escapes, and a
// backslash outside quotes escapes the next character.
func splitCommandLine(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '\\':
			escaped = true
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in command line", quote)
	}
	if escaped {
		return nil, errors.New("command line ends with a backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
