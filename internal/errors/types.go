// Package errors defines the structured error taxonomy shared by the folio
// router, dispatcher, composer and their HTTP boundary.
//
// Every failure that crosses a package boundary is a *FolioError carrying a
// Type (broad category) and a Code (specific failure). Two FolioErrors are
// considered equal by errors.Is when both Type and Code match, which lets
// callers test for a failure class without caring about its message:
//
//	if errors.Is(err, folioerrors.ErrModuleNotFound) { ... }
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeTemplate ErrorType = "template"
	ErrorTypeDispatch ErrorType = "dispatch"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Error codes.
const (
	ErrCodeModuleNotFound         = "MODULE_NOT_FOUND"
	ErrCodeModuleDepthExceeded    = "MODULE_DEPTH_EXCEEDED"
	ErrCodeModuleFailed           = "MODULE_FAILED"
	ErrCodeTemplateConfigInvalid  = "TEMPLATE_CONFIG_INVALID"
	ErrCodeTemplateNotExists      = "TEMPLATE_NOT_EXISTS"
	ErrCodeTemplatePartMissing    = "TEMPLATE_PART_MISSING"
	ErrCodeTemplateNotFound       = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateRenderFailed   = "TEMPLATE_RENDER_FAILED"
	ErrCodeInstanceNotInitialized = "INSTANCE_NOT_INITIALIZED"
	ErrCodeInstanceCycle          = "INSTANCE_CYCLE"
	ErrCodeFileNotFound           = "FILE_NOT_FOUND"
	ErrCodeFileAccess             = "FILE_ACCESS"
	ErrCodeInvalidConfig          = "INVALID_CONFIG"
	ErrCodeUnknownHook            = "UNKNOWN_HOOK"
	ErrCodePublishFailed          = "PUBLISH_FAILED"
	ErrCodeInternalError          = "INTERNAL_ERROR"
)

// FolioError is a structured error type with context.
type FolioError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Module      string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *FolioError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Module != "" {
		parts = append(parts, "module:"+e.Module)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FolioError) Unwrap() error {
	return e.Cause
}

// Clone returns a copy of e that can be changed without touching e.
func (e *FolioError) Clone() *FolioError {
	cp := *e
	cp.Context = maps.Clone(e.Context)
	return &cp
}

// Is implements error comparison.
func (e *FolioError) Is(target error) bool {
	var t *FolioError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FolioError) WithContext(key string, value interface{}) *FolioError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithModule records the module the failure belongs to.
func (e *FolioError) WithModule(module string) *FolioError {
	e.Module = module

	return e
}

// WithFile records the file the failure belongs to.
func (e *FolioError) WithFile(path string) *FolioError {
	e.FilePath = path

	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrModuleNotFound         = &FolioError{Type: ErrorTypeNotFound, Code: ErrCodeModuleNotFound}
	ErrModuleDepthExceeded    = &FolioError{Type: ErrorTypeDispatch, Code: ErrCodeModuleDepthExceeded}
	ErrTemplateConfigInvalid  = &FolioError{Type: ErrorTypeConfig, Code: ErrCodeTemplateConfigInvalid}
	ErrTemplateNotExists      = &FolioError{Type: ErrorTypeConfig, Code: ErrCodeTemplateNotExists}
	ErrTemplatePartMissing    = &FolioError{Type: ErrorTypeTemplate, Code: ErrCodeTemplatePartMissing}
	ErrTemplateNotFound       = &FolioError{Type: ErrorTypeNotFound, Code: ErrCodeTemplateNotFound}
	ErrInstanceNotInitialized = &FolioError{Type: ErrorTypeInternal, Code: ErrCodeInstanceNotInitialized}
	ErrFileNotFound           = &FolioError{Type: ErrorTypeNotFound, Code: ErrCodeFileNotFound}
)

// Error creation functions

// NewModuleNotFound reports a module identifier with no resolvable unit.
func NewModuleNotFound(module string) *FolioError {
	return &FolioError{
		Type:        ErrorTypeNotFound,
		Code:        ErrCodeModuleNotFound,
		Message:     fmt.Sprintf("module %q not exists", module),
		Module:      module,
		Recoverable: true,
	}
}

// NewModuleDepthExceeded reports an embedding chain deeper than the limit.
func NewModuleDepthExceeded(module string, limit int) *FolioError {
	return &FolioError{
		Type:        ErrorTypeDispatch,
		Code:        ErrCodeModuleDepthExceeded,
		Message:     fmt.Sprintf("module nesting exceeds %d levels", limit),
		Module:      module,
		Recoverable: true,
	}
}

// NewModuleFailed wraps an error returned by a module body.
func NewModuleFailed(module string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeDispatch,
		Code:        ErrCodeModuleFailed,
		Message:     "module execution failed",
		Cause:       cause,
		Module:      module,
		Recoverable: true,
	}
}

// NewTemplateError creates a template error with the given code.
func NewTemplateError(code, message string, cause error) *FolioError {
	errType := ErrorTypeTemplate
	switch code {
	case ErrCodeTemplateConfigInvalid, ErrCodeTemplateNotExists:
		errType = ErrorTypeConfig
	case ErrCodeTemplateNotFound:
		errType = ErrorTypeNotFound
	}

	return &FolioError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNotFound reports a missing file or lookup target.
func NewNotFound(code, message string) *FolioError {
	return &FolioError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FolioError {
	return &FolioError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var fe *FolioError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

// IsNotFound reports whether any error in the chain is a not-found failure.
func IsNotFound(err error) bool {
	var fe *FolioError
	for err != nil {
		if errors.As(err, &fe) {
			if fe.Type == ErrorTypeNotFound {
				return true
			}
			err = fe.Cause
			continue
		}
		return false
	}

	return false
}

// HTTPStatus maps an error to the status code the request boundary answers
// with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrModuleNotFound) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}
