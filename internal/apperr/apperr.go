// README: Error taxonomy shared by all modules (permission, transient, validation, not found, partial).
package apperr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindPermission
	KindTransient
	KindValidation
	KindNotFound
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindTransient:
		return "network"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPartial:
		return "partial_failure"
	default:
		return "unknown"
	}
}

// Error is a classified error. Fields carries per-field messages for
// validation errors, keyed by the JSON name of the offending field.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Invalid(op, msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg, Fields: fields}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldsOf returns the validation fields of the first classified error that has any.
func FieldsOf(err error) map[string]string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil
		}
		if len(e.Fields) > 0 {
			return e.Fields
		}
		err = e.Err
	}
	return nil
}

// Retryable reports whether repeating the same operation unchanged may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
