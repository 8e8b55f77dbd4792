package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a FolioError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *FolioError {
	if err == nil {
		return nil
	}

	// Preserve the wrapped error's location and recoverability
	var fe *FolioError
	if errors.As(err, &fe) {
		return &FolioError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       fe,
			Context:     fe.Context,
			Module:      fe.Module,
			FilePath:    fe.FilePath,
			Recoverable: fe.Recoverable,
		}
	}

	return &FolioError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeNotFound || errType == ErrorTypeDispatch,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *FolioError {
	fe := Wrap(err, ErrorTypeIO, code, message)
	if fe != nil {
		fe.Recoverable = false
	}
	return fe
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *FolioError {
	fe := Wrap(err, ErrorTypeConfig, code, message)
	if fe != nil {
		fe.Recoverable = false
	}
	return fe
}

// WrapTemplate wraps an error as a template error
func WrapTemplate(err error, code, message string) *FolioError {
	if err == nil {
		return nil
	}
	fe := NewTemplateError(code, message, err)
	var inner *FolioError
	if errors.As(err, &inner) {
		fe.Module = inner.Module
		fe.FilePath = inner.FilePath
	}
	return fe
}

// Code extracts the outermost folio error code, or the empty string.
func Code(err error) string {
	var fe *FolioError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
