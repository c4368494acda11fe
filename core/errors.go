package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformedData is matched by every MalformedDataError.
	ErrMalformedData = errors.New("malformed telemetry")
	// ErrDataSource is matched by every DataSourceError.
	ErrDataSource = errors.New("data source failure")
	// ErrSortieNotFound indicates the data source has no sortie with the requested ID.
	ErrSortieNotFound = errors.New("sortie not found")
)

// MalformedDataError reports telemetry that cannot be turned into a session:
// an empty or non-monotonic sample sequence, a non-finite coordinate, or an
// unparseable start time. Index is the offending sample, or -1 when the
// problem is not tied to one sample.
type MalformedDataError struct {
	Index  int
	Reason string
}

func (e *MalformedDataError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed telemetry at sample %d: %s", e.Index, e.Reason)
	}
	return "malformed telemetry: " + e.Reason
}

// Is lets errors.Is(err, ErrMalformedData) match.
func (e *MalformedDataError) Is(target error) bool { return target == ErrMalformedData }

func malformed(index int, format string, args ...any) *MalformedDataError {
	return &MalformedDataError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

// DataSourceError wraps a retrieval failure from an external data source.
type DataSourceError struct {
	Op       string // e.g. "list sorties", "fetch telemetry"
	SortieID string
	Err      error
}

func (e *DataSourceError) Error() string {
	if e.SortieID != "" {
		return fmt.Sprintf("data source: %s %q: %v", e.Op, e.SortieID, e.Err)
	}
	return fmt.Sprintf("data source: %s: %v", e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDataSource) match.
func (e *DataSourceError) Is(target error) bool { return target == ErrDataSource }

// WrapSourceError tags err as a DataSourceError unless it already is one.
// Context cancellation passes through untouched so callers can tell a
// superseded load from a broken source.
func WrapSourceError(op, sortieID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDataSource) || errors.Is(err, ErrMalformedData) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &DataSourceError{Op: op, SortieID: sortieID, Err: err}
}
