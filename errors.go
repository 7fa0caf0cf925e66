package resourcekit

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	ErrNotExist        = errors.New("resource does not exist")
	ErrExist           = errors.New("resource already exists")
	ErrPermission      = errors.New("permission denied")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOperationFailed = errors.New("operation failed")
	ErrNotSupported    = errors.New("operation not supported")
	ErrNotDir          = errors.New("not a directory")
	ErrIsDir           = errors.New("is a directory")
	ErrInvalidName     = errors.New("invalid name")
	ErrOffline         = errors.New("storage is offline")

	// ErrNotEmpty is returned when a folder with contents is deleted
	// without asking for recursion.
	ErrNotEmpty = fmt.Errorf("%w: folder not empty", ErrOperationFailed)

	// ErrDeleted is returned by content accessors of a deleted file.
	ErrDeleted = fmt.Errorf("%w: resource has been deleted", ErrNotExist)

	// ErrNotIndexed means the index holds no record for an identifier.
	ErrNotIndexed = fmt.Errorf("%w: not indexed", ErrNotExist)

	// ErrIllegalFileExtension is returned when the extension policy
	// refuses a file name.
	ErrIllegalFileExtension = fmt.Errorf("%w: file extension not allowed", ErrPermission)
)

// PathError records an error and the operation and identifier that caused it
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// ResourceKind distinguishes the subject of a permission check.
type ResourceKind int

const (
	KindFile ResourceKind = iota
	KindFolder
	KindStorage
)

func (k ResourceKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// PermissionError is returned when an action is refused by the
// permission evaluator. It unwraps to ErrPermission.
type PermissionError struct {
	Action     Action
	Kind       ResourceKind
	Identifier string
	Err        error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("not allowed to %s %s", e.Action, e.Kind)
	if e.Identifier != "" {
		msg += " " + e.Identifier
	}
	if e.Err != nil && e.Err != ErrPermission {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PermissionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrPermission
}

func denied(action Action, kind ResourceKind, identifier string) error {
	return &PermissionError{Action: action, Kind: kind, Identifier: identifier}
}

func illegalExtension(action Action, name string) error {
	return &PermissionError{Action: action, Kind: KindFile, Identifier: name, Err: ErrIllegalFileExtension}
}

// operationFailed marks a driver error as terminal for the operation.
// Errors that already carry a kind the caller can act on pass through.
func operationFailed(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOperationFailed) || errors.Is(err, ErrPermission) || errors.Is(err, ErrExist) {
		return err
	}
	return &PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrOperationFailed, err)}
}

// IsNotExist reports whether an error indicates that a resource does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates a name collision
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission reports whether an error indicates that permission is denied
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsInvalidArgument reports whether an error was caused by malformed input
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsOperationFailed reports whether a driver failed an otherwise permitted operation
func IsOperationFailed(err error) bool {
	return errors.Is(err, ErrOperationFailed)
}

// IsNotSupported reports whether an operation is not implemented for the given resources
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
