package blob

import "errors"

// Kind classifies the ways a BLOB service operation can fail.
type Kind int

const (
	KindInvalid Kind = iota
	KindNotInitialized
	KindAlreadyInitialized
	KindNotFound
	KindUnexpectedEOF
	KindProtocolViolation
	KindCorruptTransfer
	KindInvalidKeySize
	KindIO
)

// Error wraps an underlying error with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	base := kindString(e.Kind)
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

func (e *Error) Unwrap() error { return e.Err }

func kindString(kind Kind) string {
	switch kind {
	case KindNotInitialized:
		return "not initialized"
	case KindAlreadyInitialized:
		return "already initialized"
	case KindNotFound:
		return "not found"
	case KindUnexpectedEOF:
		return "unexpected EOF"
	case KindProtocolViolation:
		return "protocol violation"
	case KindCorruptTransfer:
		return "corrupt transfer"
	case KindInvalidKeySize:
		return "invalid key size"
	case KindIO:
		return "I/O error"
	default:
		return "invalid"
	}
}

// E creates a new error with the given kind and operation, no underlying cause.
func E(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

// Wrap annotates err with a kind and operation. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
func KindOf(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
