package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors. Errors built with the builder are marked with one of these and
// can be matched with errors.Is or the Is* helpers.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrValidation       = errors.New("validation error")
	ErrDatabase         = errors.New("database error")
	ErrInternal         = errors.New("internal error")
	ErrSystem           = errors.New("system error")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTooManyRequests  = errors.New("too many requests")
)

// InternalError carries the wrapped cause together with the details that are safe to
// return to a caller.
type InternalError struct {
	Err               error
	DisplayError      string
	ReportableDetails map[string]interface{}
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError
	}
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// ErrorBuilder accumulates hints and details before the error is marked.
type ErrorBuilder struct {
	err     error
	msg     string
	details map[string]interface{}
}

// NewError starts a builder for a new error with the given internal message.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{
		err: errors.NewWithDepth(1, msg),
		msg: msg,
	}
}

func NewErrorf(format string, args ...interface{}) *ErrorBuilder {
	err := errors.NewWithDepthf(1, format, args...)
	return &ErrorBuilder{
		err: err,
		msg: err.Error(),
	}
}

// WithError starts a builder around an existing error.
func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.NewWithDepth(1, "unknown error")
	}
	return &ErrorBuilder{
		err: err,
		msg: err.Error(),
	}
}

// WithMessage wraps the error with an additional internal message.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WrapWithDepth(1, b.err, msg)
	return b
}

// WithHint attaches a user facing hint.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...interface{}) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches details that are returned to the caller in error
// responses. Repeated calls merge.
func (b *ErrorBuilder) WithReportableDetails(details map[string]interface{}) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		b.details[k] = v
	}
	return b
}

// Mark finishes the builder, marking the error with the given sentinel.
func (b *ErrorBuilder) Mark(reference error) error {
	display := b.msg
	if hints := errors.GetAllHints(b.err); len(hints) > 0 {
		display = hints[len(hints)-1]
	}
	return &InternalError{
		Err:               errors.Mark(b.err, reference),
		DisplayError:      display,
		ReportableDetails: b.details,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}
