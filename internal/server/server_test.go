package server_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/executor"
	"github.com/matthewmarion/batchboy/internal/server"
	"github.com/matthewmarion/batchboy/internal/state"
)

const (
	testAccount = "devaccount"
	testKey     = "devkey"
)

func startTestServer(t *testing.T, store *state.Store, opts server.Options) string {
	t.Helper()

	opts.AccountName = testAccount
	opts.AccountKey = testKey
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	exec := executor.NewSubprocessExecutor(executor.NewGetterFetcher())
	srv := server.New(store, exec, opts)

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func dial(t *testing.T, addr, key string) *batch.Client {
	t.Helper()
	client, err := batch.Dial(addr, batch.NewSharedKeyCredentials(testAccount, key))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func storeWithPool(t *testing.T) *state.Store {
	t.Helper()
	store := state.NewStore()
	if err := store.CreatePool(&state.Pool{ID: "pool1", VMSize: "small", TargetNodes: 1}); err != nil {
		t.Fatal(err)
	}
	return store
}

func code(err error) codes.Code {
	var be *batch.Error
	if errors.As(err, &be) {
		return be.Code
	}
	return codes.Unknown
}

func TestCreatePool(t *testing.T) {
	addr := startTestServer(t, state.NewStore(), server.Options{})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	pool, err := client.CreatePool(ctx, batch.Pool{ID: "pool1", VMSize: "small", TargetNodes: 1})
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	if pool.ID != "pool1" || pool.CreatedAt.IsZero() {
		t.Errorf("unexpected pool: %+v", pool)
	}

	_, err = client.CreatePool(ctx, batch.Pool{ID: "pool1", VMSize: "small", TargetNodes: 1})
	if !errors.Is(err, batch.ErrAlreadyExists) {
		t.Errorf("second CreatePool error = %v, want ErrAlreadyExists", err)
	}

	_, err = client.CreatePool(ctx, batch.Pool{ID: "bad id", VMSize: "small", TargetNodes: 1})
	if code(err) != codes.InvalidArgument {
		t.Errorf("CreatePool(bad id) code = %v, want InvalidArgument", code(err))
	}
	_, err = client.CreatePool(ctx, batch.Pool{ID: "pool2", VMSize: "small"})
	if code(err) != codes.InvalidArgument {
		t.Errorf("CreatePool(0 nodes) code = %v, want InvalidArgument", code(err))
	}

	got, err := client.GetPool(ctx, "pool1")
	if err != nil || got.VMSize != "small" {
		t.Errorf("GetPool = %+v, %v", got, err)
	}
}

func TestCreateJob(t *testing.T) {
	addr := startTestServer(t, storeWithPool(t), server.Options{})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, "job1", "missing"); !errors.Is(err, batch.ErrNotFound) {
		t.Errorf("CreateJob on missing pool error = %v, want ErrNotFound", err)
	}
	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := client.CreateJob(ctx, "job1", "pool1"); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Errorf("duplicate CreateJob error = %v, want ErrAlreadyExists", err)
	}

	jobs, err := client.ListJobs(ctx, "pool1")
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job1" {
		t.Errorf("ListJobs = %+v, want [job1]", jobs)
	}
}

func TestRunTaskEndToEnd(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scenario/task.sh" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("#!/bin/sh\necho \"hello from $BATCH_TASK_ID $MODE\"\necho oops >&2\nexit 2\n"))
	}))
	defer files.Close()

	workDir := t.TempDir()
	addr := startTestServer(t, storeWithPool(t), server.Options{WorkDir: workDir})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatal(err)
	}
	_, err := client.AddTask(ctx, "job1", batch.TaskSpec{
		ID:            "main",
		CommandLine:   "task.sh",
		ResourceFiles: []batch.ResourceFile{{HTTPURL: files.URL + "/scenario/task.sh?sig=abc", FilePath: "task.sh"}},
		Environment:   map[string]string{"MODE": "test"},
	})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if _, err := client.AddTask(ctx, "job1", batch.TaskSpec{ID: "main", CommandLine: "true"}); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Errorf("duplicate AddTask error = %v, want ErrAlreadyExists", err)
	}

	info, err := client.WaitTask(ctx, "job1", "main", batch.TaskCompleted, 10*time.Second)
	if err != nil {
		t.Fatalf("WaitTask failed: %v", err)
	}
	if info.State != batch.TaskCompleted || info.ExitCode != 2 || info.FailureInfo != "" {
		t.Errorf("unexpected task info: %+v", info)
	}

	stdout, err := client.GetTaskOutput(ctx, "job1", "main", batch.StandardOutFileName)
	if err != nil {
		t.Fatalf("GetTaskOutput(stdout) failed: %v", err)
	}
	if stdout != "hello from main test\n" {
		t.Errorf("stdout = %q", stdout)
	}
	stderr, err := client.GetTaskOutput(ctx, "job1", "main", batch.StandardErrorFileName)
	if err != nil || stderr != "oops\n" {
		t.Errorf("stderr = %q, %v", stderr, err)
	}
	if _, err := client.GetTaskOutput(ctx, "job1", "main", "../secret"); code(err) != codes.InvalidArgument {
		t.Errorf("GetTaskOutput(bad name) code = %v, want InvalidArgument", code(err))
	}

	if err := client.DeleteJob(ctx, "job1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := client.GetJob(ctx, "job1"); !errors.Is(err, batch.ErrNotFound) {
		t.Errorf("GetJob after delete error = %v, want ErrNotFound", err)
	}
	waitForJobDirs(t, workDir, "job1", 0)
}

func TestWaitTaskTimeout(t *testing.T) {
	workDir := t.TempDir()
	addr := startTestServer(t, storeWithPool(t), server.Options{WorkDir: workDir})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.AddTask(ctx, "job1", batch.TaskSpec{ID: "main", CommandLine: "sleep 30"}); err != nil {
		t.Fatal(err)
	}

	if _, err := client.WaitTask(ctx, "job1", "main", batch.TaskRunning, 5*time.Second); err != nil {
		t.Fatalf("WaitTask(running) failed: %v", err)
	}
	if _, err := client.GetTaskOutput(ctx, "job1", "main", batch.StandardOutFileName); code(err) != codes.FailedPrecondition {
		t.Errorf("GetTaskOutput on running task code = %v, want FailedPrecondition", code(err))
	}

	start := time.Now()
	_, err := client.WaitTask(ctx, "job1", "main", batch.TaskCompleted, 200*time.Millisecond)
	if !errors.Is(err, batch.ErrWaitTimeout) {
		t.Fatalf("WaitTask error = %v, want ErrWaitTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("WaitTask took %v", elapsed)
	}

	if err := client.DeleteJob(ctx, "job1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	waitForJobDirs(t, workDir, "job1", 0)
}

func TestDeleteJobThenRecreate(t *testing.T) {
	workDir := t.TempDir()
	addr := startTestServer(t, storeWithPool(t), server.Options{WorkDir: workDir})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.AddTask(ctx, "job1", batch.TaskSpec{ID: "main", CommandLine: "sleep 30"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.WaitTask(ctx, "job1", "main", batch.TaskRunning, 5*time.Second); err != nil {
		t.Fatalf("WaitTask(running) failed: %v", err)
	}
	old := waitForJobDirs(t, workDir, "job1", 1)[0]

	if err := client.DeleteJob(ctx, "job1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatalf("recreating job failed: %v", err)
	}
	if _, err := client.AddTask(ctx, "job1", batch.TaskSpec{ID: "main", CommandLine: "echo again"}); err != nil {
		t.Fatal(err)
	}
	if _, err := client.WaitTask(ctx, "job1", "main", batch.TaskCompleted, 10*time.Second); err != nil {
		t.Fatalf("WaitTask failed: %v", err)
	}

	dirs := waitForJobDirs(t, workDir, "job1", 1)
	if dirs[0] == old {
		t.Fatalf("old job directory %s still present", old)
	}
	stdout, err := client.GetTaskOutput(ctx, "job1", "main", batch.StandardOutFileName)
	if err != nil || stdout != "again\n" {
		t.Errorf("stdout after old directory removal = %q, %v", stdout, err)
	}
}

func TestTaskOutputKeepsBytes(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#!/bin/sh\nprintf '\\377\\376ok'\n"))
	}))
	defer files.Close()

	addr := startTestServer(t, storeWithPool(t), server.Options{})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.CreateJob(ctx, "job1", "pool1"); err != nil {
		t.Fatal(err)
	}
	_, err := client.AddTask(ctx, "job1", batch.TaskSpec{
		ID:            "main",
		CommandLine:   "task.sh",
		ResourceFiles: []batch.ResourceFile{{HTTPURL: files.URL + "/scenario/task.sh?sig=abc", FilePath: "task.sh"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.WaitTask(ctx, "job1", "main", batch.TaskCompleted, 10*time.Second); err != nil {
		t.Fatalf("WaitTask failed: %v", err)
	}

	stdout, err := client.GetTaskOutput(ctx, "job1", "main", batch.StandardOutFileName)
	if err != nil {
		t.Fatal(err)
	}
	if want := "\xff\xfeok"; stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
}

func TestUnauthenticated(t *testing.T) {
	addr := startTestServer(t, state.NewStore(), server.Options{})
	client := dial(t, addr, "wrong-key")

	_, err := client.CreatePool(context.Background(), batch.Pool{ID: "pool1", VMSize: "small", TargetNodes: 1})
	if !errors.Is(err, batch.ErrUnauthenticated) {
		t.Errorf("CreatePool with wrong key error = %v, want ErrUnauthenticated", err)
	}
}

func TestRateLimit(t *testing.T) {
	addr := startTestServer(t, storeWithPool(t), server.Options{RateLimit: 0.001, RateBurst: 1})
	client := dial(t, addr, testKey)
	ctx := context.Background()

	if _, err := client.GetPool(ctx, "pool1"); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := client.GetPool(ctx, "pool1"); code(err) != codes.ResourceExhausted {
		t.Errorf("second call code = %v, want ResourceExhausted", code(err))
	}
}

func jobDirs(t *testing.T, workDir, jobID string) []string {
	t.Helper()
	dirs, err := filepath.Glob(filepath.Join(workDir, jobID+"-*"))
	if err != nil {
		t.Fatal(err)
	}
	return dirs
}

func waitForJobDirs(t *testing.T, workDir, jobID string, want int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		dirs := jobDirs(t, workDir, jobID)
		if len(dirs) == want {
			return dirs
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s directories = %v, want %d", jobID, dirs, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
