package api

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/noriteio/norite/pkg/errs"
)

// grpcCode maps the transport-agnostic error taxonomy onto gRPC status
// codes for the wire boundary.
func grpcCode(kind errs.Kind) codes.Code {
	switch kind {
	case errs.NotFound:
		return codes.NotFound
	case errs.AlreadyExists:
		return codes.AlreadyExists
	case errs.MissingArgument, errs.InvalidArgument:
		return codes.InvalidArgument
	case errs.Conflict:
		return codes.Aborted
	case errs.PreconditionFailed:
		return codes.FailedPrecondition
	case errs.Unavailable:
		return codes.Unavailable
	case errs.Timeout:
		return codes.DeadlineExceeded
	case errs.Aborted:
		return codes.Aborted
	case errs.Unauthorized:
		return codes.PermissionDenied
	case errs.Unimplemented:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

// WireError converts an internal error to a gRPC status error. A nil
// err passes through.
func WireError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(grpcCode(errs.KindOf(err)), err.Error())
}
