package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrorUnsupportedAttachment ErrorCode = "UNSUPPORTED_ATTACHMENT"
	ErrorUpload                ErrorCode = "UPLOAD_ERROR"
	ErrorSessionInvalid        ErrorCode = "SESSION_INVALID"
	ErrorGateway               ErrorCode = "GATEWAY_ERROR"
	ErrorInvalidResponse       ErrorCode = "INVALID_RESPONSE"
	ErrorPersistence           ErrorCode = "PERSISTENCE_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage is the human-readable text shown in the error chat bubble.
func (e *Error) UserMessage() string {
	switch e.Code {
	case ErrorUnsupportedAttachment:
		return "This workflow does not accept that kind of file."
	case ErrorUpload:
		return "The file upload failed. Please try again."
	case ErrorSessionInvalid:
		return "Your session has expired. Please sign in again."
	case ErrorGateway:
		return "The workflow service could not be reached. Please try again."
	case ErrorInvalidResponse:
		return "The workflow returned an unexpected response."
	case ErrorPersistence:
		return "Saving the message failed. Please try again."
	default:
		return "An unexpected error occurred."
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
