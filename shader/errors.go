package shader

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the shader package.
var (
	// ErrNameTaken is returned when registering a shader whose name is
	// already present in the manager.
	ErrNameTaken = errors.New("shader: name already registered")

	// ErrNameInvalid is returned when a shader name contains characters
	// outside the filesystem-safe charset (letters, digits, '.', '_', '-').
	ErrNameInvalid = errors.New("shader: name contains invalid characters")

	// ErrUnknownShader is returned when looking up a shader name that was
	// never registered.
	ErrUnknownShader = errors.New("shader: unknown shader name")

	// ErrCompilationRunning is returned when a compile batch is started
	// while another batch is still in flight.
	ErrCompilationRunning = errors.New("shader: compilation batch already running")
)

// InvalidationReason identifies why a cached shader variant can no longer
// be trusted. Reasons are ordered by check priority: the first mismatch
// found wins.
type InvalidationReason int

const (
	// InvalidationEntryPointChanged: the entry function name differs.
	InvalidationEntryPointChanged InvalidationReason = iota

	// InvalidationStageChanged: the shader stage differs.
	InvalidationStageChanged

	// InvalidationMacrosChanged: the macro set differs.
	InvalidationMacrosChanged

	// InvalidationSourceChanged: the source file content hash differs.
	InvalidationSourceChanged

	// InvalidationIncludeTreeChanged: some transitively-included file changed.
	InvalidationIncludeTreeChanged

	// InvalidationBinaryMissing: the compiled bytecode file is missing or
	// its size does not match the recorded size.
	InvalidationBinaryMissing
)

// String returns the reason identifier used in logs.
func (r InvalidationReason) String() string {
	switch r {
	case InvalidationEntryPointChanged:
		return "SHADER_ENTRY_FUNCTION_NAME_CHANGED"
	case InvalidationStageChanged:
		return "SHADER_TYPE_CHANGED"
	case InvalidationMacrosChanged:
		return "SHADER_DEFINED_MACROS_CHANGED"
	case InvalidationSourceChanged:
		return "SHADER_SOURCE_FILE_CHANGED"
	case InvalidationIncludeTreeChanged:
		return "SHADER_INCLUDE_TREE_CONTENT_CHANGED"
	case InvalidationBinaryMissing:
		return "COMPILED_BINARY_FILE_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// CacheError reports that a cached variant failed validation. It is an
// expected, recoverable condition: the caller purges the cache directory
// and either recompiles or surfaces the error when recompilation was not
// requested.
type CacheError struct {
	Name   string
	Reason InvalidationReason
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("shader %q: cache invalid: %s", e.Name, e.Reason)
}

// Diagnostic is a user-facing shader compiler diagnostic: the shader
// source itself is malformed. Diagnostics are recoverable; the offending
// pack is simply not registered.
type Diagnostic struct {
	Name    string
	Message string
}

func (e *Diagnostic) Error() string {
	return fmt.Sprintf("shader %q: compile diagnostic: %s", e.Name, e.Message)
}

// InternalError is an engine-side failure (I/O unrelated to user shader
// content, backend failure, violated invariant). It carries a breadcrumb
// trail of call-site locations so the full path is readable by the time
// the error reaches a top-level handler. Internal errors are fatal for the
// operation in progress and must not be papered over.
type InternalError struct {
	locations []string // most recent last
	cause     error
}

// NewInternalError creates an internal error with an initial location.
func NewInternalError(location string, cause error) *InternalError {
	return &InternalError{locations: []string{location}, cause: cause}
}

// Internalf creates an internal error from a formatted message, with no
// separate cause.
func Internalf(format string, args ...any) *InternalError {
	return &InternalError{locations: []string{fmt.Sprintf(format, args...)}}
}

// Locate appends a call-site breadcrumb and returns the error so call
// sites can re-return it in one expression.
func (e *InternalError) Locate(location string) *InternalError {
	e.locations = append(e.locations, location)
	return e
}

func (e *InternalError) Error() string {
	var sb strings.Builder
	sb.WriteString("internal error")
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	for i := len(e.locations) - 1; i >= 0; i-- {
		sb.WriteString("\n  at ")
		sb.WriteString(e.locations[i])
	}
	return sb.String()
}

func (e *InternalError) Unwrap() error {
	return e.cause
}

// LocateInternal appends a breadcrumb when err is an InternalError and
// otherwise wraps err into a new one, so call sites can propagate any
// error with a location attached.
func LocateInternal(err error, location string) error {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.Locate(location)
	}
	return NewInternalError(location, err)
}
