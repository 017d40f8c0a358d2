// Package errors provides coded errors shared by the search service and its
// transports, and the mapping from codes to HTTP status.
package errors

import (
	"fmt"
	"net/http"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRequestInvalid Code = "request.invalid"

	CodeEncoderUnavailable Code = "encoder.unavailable"
	CodeEncoderFailure     Code = "encoder.internal.failure"
	CodeIndexUnavailable   Code = "index.unavailable"

	CodeResourceFetchFailure Code = "resources.fetch.failure"
	CodeResourceParseInvalid Code = "resources.parse.invalid"

	CodeSearchFailure   Code = "search.internal.failure"
	CodeInternalFailure Code = "internal.failure"

	CodeConfigInvalid Code = "config.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code carried by err, or "" for uncoded errors. When
// coded errors are nested the innermost code wins.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

// IsUnavailable reports whether err means a dependency (encoder or index) is not loaded.
func IsUnavailable(err error) bool {
	code := CodeOf(err)
	return code == CodeEncoderUnavailable || code == CodeIndexUnavailable
}

// IsInvalid reports whether err was caused by a malformed request.
func IsInvalid(err error) bool {
	return CodeOf(err) == CodeRequestInvalid
}

// HTTPStatus maps an error to the status both transports answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch CodeOf(err) {
	case CodeRequestInvalid:
		return http.StatusBadRequest
	case CodeEncoderUnavailable, CodeIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
