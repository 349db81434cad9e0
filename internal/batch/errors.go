package batch

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrWaitTimeout     = errors.New("wait timed out")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error is a failed call to the batch service.
type Error struct {
	Code    codes.Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("batch service: %s: %s", e.Code, e.Message)
}

// Is matches the error kinds callers branch on.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAlreadyExists:
		return e.Code == codes.AlreadyExists
	case ErrNotFound:
		return e.Code == codes.NotFound
	case ErrWaitTimeout:
		return e.Code == codes.DeadlineExceeded
	case ErrUnauthenticated:
		return e.Code == codes.Unauthenticated
	}
	return false
}

func fromRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &Error{Code: st.Code(), Message: st.Message()}
}
