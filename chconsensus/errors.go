package chconsensus

import "errors"

// ErrorClass groups errors by how the consensus core reacts to them.
type ErrorClass uint8

const (
	_ ErrorClass = iota

	// The intent is rejected and the submitter is told why.
	AdmissionError

	// The proposal is rejected and this node withholds its vote.
	ValidationError

	// The message is discarded.
	CryptoError

	// The offending voter's weight is excluded for the height.
	ProtocolError

	// The round is abandoned and the next round begins.
	LivenessFailure
)

func (c ErrorClass) String() string {
	switch c {
	case AdmissionError:
		return "admission"
	case ValidationError:
		return "validation"
	case CryptoError:
		return "crypto"
	case ProtocolError:
		return "protocol"
	case LivenessFailure:
		return "liveness"
	default:
		return "unclassified"
	}
}

// Error is a classified sentinel error.
// Compare with errors.Is against the exported values,
// or use [ClassOf] to get the class of a wrapped error.
type Error struct {
	Class ErrorClass
	msg   string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(c ErrorClass, msg string) *Error {
	return &Error{Class: c, msg: msg}
}

var (
	ErrDuplicate         = newError(AdmissionError, "duplicate intent")
	ErrInvalidCommitment = newError(AdmissionError, "invalid intent commitment")
	ErrFull              = newError(AdmissionError, "mempool is full")

	ErrUnknownIntent   = newError(ValidationError, "unknown intent")
	ErrApplication     = newError(ValidationError, "intent application failed")
	ErrRootMismatch    = newError(ValidationError, "state root mismatch")
	ErrFutureTimestamp = newError(ValidationError, "block timestamp too far ahead")

	ErrBadSignature = newError(CryptoError, "bad signature")
	ErrUnknownVoter = newError(CryptoError, "unknown voter")

	ErrEquivocation = newError(ProtocolError, "equivocation")

	ErrRoundTimeout = newError(LivenessFailure, "round timeout")
)

// ClassOf returns the class of the first classified error in err's chain,
// or the zero class if there is none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return 0
}

func IsAdmissionError(err error) bool  { return ClassOf(err) == AdmissionError }
func IsValidationError(err error) bool { return ClassOf(err) == ValidationError }
func IsCryptoError(err error) bool     { return ClassOf(err) == CryptoError }
