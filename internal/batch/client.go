package batch

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the batch execution service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the batch service at endpoint, signing calls with creds.
func Dial(endpoint string, creds *SharedKeyCredentials, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(creds),
	}, opts...)
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to batch service %s: %w", endpoint, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fromRPC(err)
	}
	return out, nil
}

func (c *Client) CreatePool(ctx context.Context, pool Pool) (*Pool, error) {
	return invoke[Pool](ctx, c, "CreatePool", &CreatePoolRequest{Pool: pool})
}

func (c *Client) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	return invoke[Pool](ctx, c, "GetPool", &GetPoolRequest{PoolID: poolID})
}

func (c *Client) CreateJob(ctx context.Context, jobID, poolID string) (*JobInfo, error) {
	return invoke[JobInfo](ctx, c, "CreateJob", &CreateJobRequest{JobID: jobID, PoolID: poolID})
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	return invoke[JobInfo](ctx, c, "GetJob", &GetJobRequest{JobID: jobID})
}

func (c *Client) ListJobs(ctx context.Context, poolID string) ([]JobInfo, error) {
	resp, err := invoke[ListJobsResponse](ctx, c, "ListJobs", &ListJobsRequest{PoolID: poolID})
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	_, err := invoke[Empty](ctx, c, "DeleteJob", &DeleteJobRequest{JobID: jobID})
	return err
}

func (c *Client) AddTask(ctx context.Context, jobID string, task TaskSpec) (*TaskInfo, error) {
	return invoke[TaskInfo](ctx, c, "AddTask", &AddTaskRequest{JobID: jobID, Task: task})
}

func (c *Client) GetTask(ctx context.Context, jobID, taskID string) (*TaskInfo, error) {
	return invoke[TaskInfo](ctx, c, "GetTask", &GetTaskRequest{JobID: jobID, TaskID: taskID})
}

// WaitTask blocks until the task reaches state. It fails with an error
// matching ErrWaitTimeout if that takes longer than timeout.
func (c *Client) WaitTask(ctx context.Context, jobID, taskID string, state TaskState, timeout time.Duration) (*TaskInfo, error) {
	return invoke[TaskInfo](ctx, c, "WaitTask", &WaitTaskRequest{
		JobID:   jobID,
		TaskID:  taskID,
		State:   state,
		Timeout: timeout,
	})
}

// GetTaskOutput returns the content of one of the task's output files.
func (c *Client) GetTaskOutput(ctx context.Context, jobID, taskID, fileName string) (string, error) {
	resp, err := invoke[TaskOutput](ctx, c, "GetTaskOutput", &GetTaskOutputRequest{
		JobID:    jobID,
		TaskID:   taskID,
		FileName: fileName,
	})
	if err != nil {
		return "", err
	}
	return string(resp.Content), nil
}
