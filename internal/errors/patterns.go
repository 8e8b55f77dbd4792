package errors

import (
	"errors"
	"fmt"
)

// Constructors for failures outside the request core.

// ConfigurationError reports an invalid configuration setting.
func ConfigurationError(setting, message string, value interface{}) *FolioError {
	return NewConfigError(ErrCodeInvalidConfig, message).
		WithContext("setting", setting).
		WithContext("value", value)
}

// UnknownHookError reports a before-hook name with no registered hook.
func UnknownHookError(name string) *FolioError {
	return NewConfigError(ErrCodeUnknownHook, fmt.Sprintf("before-hook %q is not registered", name)).
		WithContext("hook", name)
}

// FileOperationError reports a failed file operation on path.
func FileOperationError(operation, path string, cause error) *FolioError {
	if cause == nil {
		return NewIOError(ErrCodeFileAccess, operation+" failed", nil).WithFile(path)
	}
	return WrapIO(cause, ErrCodeFileAccess, operation+" failed").WithFile(path)
}

// PublishError reports a page that could not be exported.
func PublishError(page string, cause error) *FolioError {
	return NewIOError(ErrCodePublishFailed, fmt.Sprintf("publish %s", page), cause)
}

// Error chain utilities

// GetErrorChain returns all errors in the chain from outermost to innermost.
func GetErrorChain(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		if fe, ok := err.(*FolioError); ok {
			err = fe.Cause
			continue
		}
		err = errors.Unwrap(err)
	}
	return chain
}

// GetRootCause returns the deepest error in the chain.
func GetRootCause(err error) error {
	chain := GetErrorChain(err)
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}

// HasErrorCode checks if any error in the chain has the specified code.
func HasErrorCode(err error, code string) bool {
	for _, e := range GetErrorChain(err) {
		if fe, ok := e.(*FolioError); ok && fe.Code == code {
			return true
		}
	}
	return false
}

// HasErrorType checks if any error in the chain has the specified type.
func HasErrorType(err error, errType ErrorType) bool {
	for _, e := range GetErrorChain(err) {
		if fe, ok := e.(*FolioError); ok && fe.Type == errType {
			return true
		}
	}
	return false
}
