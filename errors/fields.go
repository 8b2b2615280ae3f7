package errors

import "errors"

// Field is a single (code, value) entry in the repeated error-field list
// every wire Error message carries alongside its fixed severity/code/message
// trio, including the always-present server traceback field.
type Field struct {
	Code  uint16
	Value string
}

// Well-known field codes. FieldTraceback is mandatory: the server always
// includes it, even when the traceback is empty, so clients can rely on its
// position when rendering diagnostics.
const (
	FieldTraceback uint16 = iota
	FieldSchemaName
	FieldTableName
	FieldColumnName
	FieldConstraintName
)

// WithFields decorates the error with additional (code, value) pairs that
// are appended to whatever fields are already attached.
func WithFields(err error, fields ...Field) error {
	if err == nil {
		return nil
	}

	return &withFields{cause: err, fields: fields}
}

// GetFields collects every field attached along the error chain, outermost
// first, and guarantees a FieldTraceback entry is always present.
func GetFields(err error) []Field {
	fields := collectFields(err)

	for _, f := range fields {
		if f.Code == FieldTraceback {
			return fields
		}
	}

	return append([]Field{{Code: FieldTraceback, Value: ""}}, fields...)
}

func collectFields(err error) []Field {
	if err == nil {
		return nil
	}

	var fields []Field
	if w, ok := err.(*withFields); ok {
		fields = append(fields, w.fields...)
	}

	if n := errors.Unwrap(err); n != nil {
		fields = append(fields, collectFields(n)...)
	}

	return fields
}

type withFields struct {
	cause  error
	fields []Field
}

func (w *withFields) Error() string { return w.cause.Error() }
func (w *withFields) Unwrap() error { return w.cause }
