package importer

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/populator"
)

// ErrArchiveNotFound is returned when the archive path does not exist.
var ErrArchiveNotFound = errors.New("archive not found")

// Message keys persisted as the job's error message.
const (
	MessageNotFound    = "job_error_not_found"
	MessageNoPopulator = "job_error_no_populator"
	MessageIO          = "job_error_io"
	MessagePopulate    = "job_error_populate"
	MessageFailed      = job.MessageFailed
)

// PathError is an I/O failure tied to a file or archive entry.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }
func (e *PathError) Unwrap() error { return e.Err }

// PopulateError is a populator failure on one node.
type PopulateError struct {
	NodeID    string
	Path      string
	Populator string
	Err       error
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("populate node %s from %s with %q: %v", e.NodeID, e.Path, e.Populator, e.Err)
}

func (e *PopulateError) Unwrap() error { return e.Err }

// MessageKey classifies err into the stable key recorded on a failed job.
func MessageKey(err error) string {
	var popErr *PopulateError
	var pathErr *PathError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &popErr):
		return MessagePopulate
	case errors.Is(err, populator.ErrNoPopulator):
		return MessageNoPopulator
	case errors.Is(err, ErrArchiveNotFound), errors.Is(err, content.ErrNotFound):
		return MessageNotFound
	case errors.As(err, &pathErr):
		return MessageIO
	default:
		return MessageFailed
	}
}
