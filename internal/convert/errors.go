package convert

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed error-kind set from spec.md §7.
type ErrorKind string

const (
	KindStorageUnavailable  ErrorKind = "storage-unavailable"
	KindInputMalformed      ErrorKind = "input-malformed"
	KindInputIncomplete     ErrorKind = "input-incomplete"
	KindUnknownFamily       ErrorKind = "unknown-family"
	KindUnsupportedOption   ErrorKind = "unsupported-option"
	KindQuotaExceeded       ErrorKind = "quota-exceeded"
	KindCancelled           ErrorKind = "cancelled"
	KindTranscodeAlignment  ErrorKind = "transcode-alignment"
	KindAssertion           ErrorKind = "assertion"
)

// ConvertError carries an error kind alongside a rendered, user-facing
// message, per spec.md §9 ("typed result values carrying the error-kind
// enum and a rendered message").
type ConvertError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ConvertError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConvertError) Unwrap() error { return e.Cause }

func newErr(kind ErrorKind, cause error, format string, args ...any) *ConvertError {
	return &ConvertError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err, if any, defaulting to
// KindAssertion for errors the driver didn't classify — an unclassified
// error reaching the caller is itself a defect worth surfacing loudly.
func KindOf(err error) ErrorKind {
	var ce *ConvertError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindAssertion
}

// knownFamilies lists the preset ids enumerated in an unknown-family
// error's guidance message (spec.md §7).
var knownFamilies = []string{"gemma2", "gemma3", "llama3", "qwen3", "mixtral", "deepseek", "mamba", "gpt-oss", "transformer", "diffusion"}
