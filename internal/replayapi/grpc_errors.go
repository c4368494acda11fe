package replayapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/playback"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

// ErrInvalidRequest marks client-side validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps playback errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrSortieNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrMalformedData),
		errors.Is(err, timectrl.ErrInvalidRate):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, playback.ErrSuperseded):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, playback.ErrNoSession),
		errors.Is(err, playback.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrDataSource):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
