package batch

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "batchboy.batch.v1.Batch"

// BatchServer is the server API of the batch execution service.
type BatchServer interface {
	CreatePool(context.Context, *CreatePoolRequest) (*Pool, error)
	GetPool(context.Context, *GetPoolRequest) (*Pool, error)
	CreateJob(context.Context, *CreateJobRequest) (*JobInfo, error)
	GetJob(context.Context, *GetJobRequest) (*JobInfo, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	DeleteJob(context.Context, *DeleteJobRequest) (*Empty, error)
	AddTask(context.Context, *AddTaskRequest) (*TaskInfo, error)
	GetTask(context.Context, *GetTaskRequest) (*TaskInfo, error)
	WaitTask(context.Context, *WaitTaskRequest) (*TaskInfo, error)
	GetTaskOutput(context.Context, *GetTaskOutputRequest) (*TaskOutput, error)
}

// FullMethod returns the gRPC method path of a service method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BatchServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreatePool", BatchServer.CreatePool),
		unaryMethod("GetPool", BatchServer.GetPool),
		unaryMethod("CreateJob", BatchServer.CreateJob),
		unaryMethod("GetJob", BatchServer.GetJob),
		unaryMethod("ListJobs", BatchServer.ListJobs),
		unaryMethod("DeleteJob", BatchServer.DeleteJob),
		unaryMethod("AddTask", BatchServer.AddTask),
		unaryMethod("GetTask", BatchServer.GetTask),
		unaryMethod("WaitTask", BatchServer.WaitTask),
		unaryMethod("GetTaskOutput", BatchServer.GetTaskOutput),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterBatchServer(s grpc.ServiceRegistrar, srv BatchServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(BatchServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BatchServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BatchServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
