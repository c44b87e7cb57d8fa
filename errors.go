package clickrow

import "fmt"

// ErrorKind discriminates the failure modes of the client.
type ErrorKind int

// ErrorKind Constants
const (
	Transport ErrorKind = iota + 1 // connection, DNS, TLS or I/O failure
	ServerError                    // non-2xx HTTP response
	MalformedType                  // type expression with bad arguments
	UnknownType                    // type family not supported
	UnexpectedEOF                  // wire data shorter than the schema implies
	Encoding                       // invalid utf8, bad varuint, unknown enum tag
	OutOfRange                     // value does not fit the target column type
	PrecisionLoss                  // decimal cannot be scaled exactly
	NullInNonNullable              // nil for a non-Nullable column
	TrailingGarbage                // bytes past the last complete row
)

var kindNames = map[ErrorKind]string{
	Transport:         "transport",
	ServerError:       "server error",
	MalformedType:     "malformed type",
	UnknownType:       "unknown type",
	UnexpectedEOF:     "unexpected EOF",
	Encoding:          "encoding",
	OutOfRange:        "out of range",
	PrecisionLoss:     "precision loss",
	NullInNonNullable: "null in non-nullable",
	TrailingGarbage:   "trailing garbage",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type returned by all operations of this package.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return fmt.Sprintf("clickrow: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("clickrow: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("clickrow: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: Encoding}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the ErrorKind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return 0
}
