package errors

import "errors"

// New is a thin re-export of the standard library's errors.New so callers
// that decorate a fresh error (WithCode(errors.New("..."), ...)) don't
// need to import both this package and "errors" under an alias.
func New(text string) error {
	return errors.New(text)
}

// Is re-exports errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap re-exports errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
