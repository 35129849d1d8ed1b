package gerror

import "errors"

// ToError locates an Error of the given code in err's chain.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func Is(err error, code Code) bool {
	return ToError(err, code) != nil
}

func NewErrNotFound(message string) Error {
	return New(CodeNotFound, message)
}

func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}

func NewErrAlreadyExists(message string) Error {
	return New(CodeAlreadyExists, message)
}

func IsAlreadyExists(err error) bool {
	return Is(err, CodeAlreadyExists)
}

func NewErrConfigInvalid(message string) Error {
	return New(CodeConfigInvalid, message)
}

func NewErrRepositoryResolution(message string) Error {
	return New(CodeRepositoryResolution, message)
}

func NewErrSourceHashMismatch(message string) Error {
	return New(CodeSourceHashMismatch, message)
}

func WrapErrEndpointSetup(message string, inner error) Error {
	return Wrap(CodeEndpointSetup, message, inner)
}

func WrapErrEndpointTransient(message string, inner error) Error {
	return Wrap(CodeEndpointTransient, message, inner)
}

func IsEndpointTransient(err error) bool {
	return Is(err, CodeEndpointTransient)
}

func WrapErrContainerRun(message string, inner error) Error {
	return Wrap(CodeContainerRun, message, inner)
}

func WrapErrLogIO(message string, inner error) Error {
	return Wrap(CodeLogIO, message, inner)
}

func WrapErrLedgerWrite(message string, inner error) Error {
	return Wrap(CodeLedgerWrite, message, inner)
}

func NewErrDependenciesAbandoned(message string) Error {
	return New(CodeDependenciesAbandoned, message)
}

func NewErrRootAbandoned(message string) Error {
	return New(CodeRootAbandoned, message)
}
