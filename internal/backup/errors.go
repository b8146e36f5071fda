package backup

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/manyfold/manyfold/internal/fsop"
)

// Kind names the variant of a recorded copy error. Expected conditions are
// recorded per destination and returned as values, never raised; only
// invariant violations escape as regular Go errors.
type Kind string

const (
	NothingWasDone      Kind = "NothingWasDone"
	PathNotWorking      Kind = "PathNotWorking"
	PathNotThere        Kind = "PathNotThere"
	PathTooLong         Kind = "PathTooLong"
	PathOperationFailed Kind = "PathOperationFailed"
	WrongArgumentType   Kind = "WrongArgumentType"
	WrongArgumentValue  Kind = "WrongArgumentValue"
	CantOpenFile        Kind = "CantOpenFile"
	AccessDenied        Kind = "AccessDenied"
	FileWriteFailure    Kind = "FileWriteFailure"
	DirectoryNotEmpty   Kind = "DirectoryNotEmpty"
)

// Kinds returns every variant name, in a stable order.
func Kinds() []string {
	return []string{
		string(NothingWasDone),
		string(PathNotWorking),
		string(PathNotThere),
		string(PathTooLong),
		string(PathOperationFailed),
		string(WrongArgumentType),
		string(WrongArgumentValue),
		string(CantOpenFile),
		string(AccessDenied),
		string(FileWriteFailure),
		string(DirectoryNotEmpty),
	}
}

// OpError records one failed operation against one path or destination.
type OpError struct {
	Kind     Kind
	Message  string
	Path     string
	Filename string
	Argument string
	Cause    error
}

func (e OpError) Error() string {
	var b strings.Builder

	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Path != "" {
		fmt.Fprintf(&b, " (path %q)", e.Path)
	}
	if e.Filename != "" {
		fmt.Fprintf(&b, " (file %q)", e.Filename)
	}
	if e.Argument != "" {
		fmt.Fprintf(&b, " (argument %q)", e.Argument)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	return b.String()
}

func (e OpError) Unwrap() error {
	return e.Cause
}

// windowsMaxPath is the path length from which Windows misreports an open
// failure as not-found rather than a path-length problem.
const windowsMaxPath = 256

// classifyOpenErr sorts an open failure into the error taxonomy. On Windows
// a not-found on a path of 256 characters or more is the path-length limit
// in disguise.
func classifyOpenErr(path string, err error, osType fsop.OSType) OpError {
	switch {
	case errors.Is(err, os.ErrNotExist):
		if osType == fsop.OSWindows && len(path) >= windowsMaxPath {
			return OpError{Kind: PathTooLong, Message: "path too long, failed to open", Path: path, Cause: err}
		}

		return OpError{Kind: PathNotThere, Message: "file not found", Path: path, Cause: err}

	case errors.Is(err, os.ErrPermission):
		return OpError{Kind: AccessDenied, Message: "permission denied", Path: path, Cause: err}

	default:
		return OpError{Kind: CantOpenFile, Message: "failed to open", Filename: path, Cause: err}
	}
}

// classifyRemoveErr sorts a delete failure into the error taxonomy.
func classifyRemoveErr(path string, err error) OpError {
	switch {
	case errors.Is(err, os.ErrPermission):
		return OpError{Kind: AccessDenied, Message: "permission denied on remove", Path: path, Cause: err}

	case errors.Is(err, syscall.ENOTEMPTY):
		return OpError{Kind: DirectoryNotEmpty, Message: "directory not empty", Path: path, Cause: err}

	default:
		return OpError{Kind: PathOperationFailed, Message: "failed to remove", Path: path, Cause: err}
	}
}

// isCloudPlaceholder reports the Windows-specific failure pattern a read on
// a dehydrated cloud placeholder produces: errno 22 with the message
// "Invalid argument".
func isCloudPlaceholder(err error, osType fsop.OSType) bool {
	if osType != fsop.OSWindows || err == nil {
		return false
	}

	return errors.Is(err, syscall.EINVAL) && strings.Contains(err.Error(), "Invalid argument")
}
