package gridbase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWrongDepth = errors.New("operation not allowed at this path depth")

	ErrPermissionDenied = errors.New("permission denied")
	ErrPrivateName      = fmt.Errorf("%w: private name", ErrPermissionDenied)
	ErrInvalidRules     = errors.New("invalid security rules")
	ErrInvalidToken     = errors.New("invalid identity token")

	ErrInvalidQuery = errors.New("invalid query")

	ErrNotFound           = errors.New("object not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrInvalidData        = errors.New("invalid data format")

	ErrLockHeld = errors.New("lock already held by another process")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext carries the path, permission or key an error is about.
// errors.Is and errors.As see through it to Err.
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

// Error renders the context as sorted key=value pairs after the message.
func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	var b strings.Builder
	b.WriteString(e.Err.Error())
	b.WriteByte(':')
	for _, k := range sortedKeys(e.Context) {
		fmt.Fprintf(&b, " %s=%s", k, fieldText(e.Context[k]))
	}
	return b.String()
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext attaches context to err. A nil err stays nil.
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{Err: err, Context: context}
}

// depthError names the depth an operation requires.
func depthError(op string, path Path, required string) error {
	return WithContext(ErrWrongDepth, map[string]interface{}{
		"operation":      op,
		"path":           path.String(),
		"required_depth": required,
	})
}

// IsWrongDepth reports an operation called at the wrong path depth.
func IsWrongDepth(err error) bool {
	return errors.Is(err, ErrWrongDepth)
}

// IsPermissionDenied reports a checkpoint denial, including private names.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports failures a caller may retry. The store itself never
// retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrLockHeld)
}
