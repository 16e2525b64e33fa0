package cuda

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// ErrorKind classifies the errors returned by this package. Each kind is itself an error, so one
// can check for it with errors.Is:
//
//	if errors.Is(err, cuda.LengthMismatch) { ... }
//
// LengthMismatch, SizeMismatch and InvalidLaunchConfiguration are also a ValidationError: they
// are detected before any device call is made.
type ErrorKind int

const (
	// ValidationError is a bad shape, element type or size, caught before any device call.
	ValidationError ErrorKind = iota + 1

	// LengthMismatch is returned when copying between arrays (or slices) with different number of elements.
	LengthMismatch

	// SizeMismatch is returned when a byte size doesn't match the one of the element type, e.g. of a module global.
	SizeMismatch

	// ArgumentTypeMismatch is returned when a launch argument can't be converted to the declared parameter type.
	ArgumentTypeMismatch

	// InvalidLaunchConfiguration is returned for non-positive or malformed grid/block dimensions.
	InvalidLaunchConfiguration

	// OutOfMemory is returned when the device can't allocate the requested memory.
	OutOfMemory

	// DeviceError wraps a non-successful status from a driver call not covered by other kinds.
	DeviceError

	// LaunchError wraps a non-successful status from launching a kernel.
	LaunchError

	// TransferError is returned for copies exceeding an endpoint capacity, or wraps a failed driver copy.
	TransferError

	// SymbolNotFound is returned when a module has no global or function with the requested name.
	SymbolNotFound
)

var errorKindNames = map[ErrorKind]string{
	ValidationError:            "ValidationError",
	LengthMismatch:             "LengthMismatch",
	SizeMismatch:               "SizeMismatch",
	ArgumentTypeMismatch:       "ArgumentTypeMismatch",
	InvalidLaunchConfiguration: "InvalidLaunchConfiguration",
	OutOfMemory:                "OutOfMemory",
	DeviceError:                "DeviceError",
	LaunchError:                "LaunchError",
	TransferError:              "TransferError",
	SymbolNotFound:             "SymbolNotFound",
}

// Error implements the error interface.
func (k ErrorKind) Error() string {
	if name, found := errorKindNames[k]; found {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// IsValidation returns whether the kind is detected before reaching the driver.
func (k ErrorKind) IsValidation() bool {
	return k == ValidationError || k == LengthMismatch || k == SizeMismatch || k == InvalidLaunchConfiguration
}

// Error is the concrete error returned by this package.
type Error struct {
	Kind ErrorKind

	// Status is the raw driver status, for errors coming from a driver call; driver.Success otherwise.
	Status driver.Status

	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != driver.Success {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is makes errors.Is match the error's kind, and ValidationError for the kinds that are validations.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	if !ok {
		return false
	}
	if kind == e.Kind {
		return true
	}
	return kind == ValidationError && e.Kind.IsValidation()
}

// newErrorf creates an *Error of the given kind, with a stack trace.
func newErrorf(kind ErrorKind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// statusErrorf creates an *Error of the given kind wrapping a driver status, with a stack trace.
// It returns nil if status is driver.Success.
func statusErrorf(kind ErrorKind, status driver.Status, format string, args ...any) error {
	if status == driver.Success {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Status: status, Msg: fmt.Sprintf(format, args...)})
}

// StatusOf returns the driver status preserved in err, or driver.Success if err doesn't carry one.
func StatusOf(err error) driver.Status {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return driver.Success
}

// KindOf returns the ErrorKind of err, or 0 if err was not created by this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
