package errors

import "github.com/relaydb/wire/codes"

// Error contains all fields the wire protocol requires when reporting an
// error to a connected client, plus the taxonomy Kind used internally to
// decide how the connection recovers.
type Error struct {
	Code     codes.Code
	Message  string
	Detail   string
	Hint     string
	Severity Severity
	Kind     Kind
	Fields   []Field
	Source   *Source
}

// Source represents whenever possible the source of a given error.
type Source struct {
	File     string
	Line     int32
	Function string
}

// Flatten walks the decorator chain attached to err and collects every
// field into a single Error value ready to be written to the wire.
func Flatten(err error) Error {
	if err == nil {
		return Error{
			Code:     codes.InternalServerError,
			Message:  "unknown error, an internal process attempted to throw an error",
			Severity: LevelFatal,
			Fields:   []Field{{Code: FieldTraceback, Value: ""}},
		}
	}

	result := Error{
		Code:     GetCode(err),
		Message:  err.Error(),
		Detail:   GetDetail(err),
		Hint:     GetHint(err),
		Severity: DefaultSeverity(GetSeverity(err)),
		Kind:     GetKind(err),
		Fields:   GetFields(err),
		Source:   GetSource(err),
	}

	return result
}
