package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrShuttingDown          = errors.New("daemon is shutting down")
	ErrUnknownSender         = errors.New("message sender is not a participant of the trade")
	ErrSenderAddressMismatch = errors.New("message sender address does not match header")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrOpenOfferClosed       = errors.New("open offer already taken")
	ErrOfferMismatch         = errors.New("offer does not match the open offer")
	ErrUnexpectedMessage     = errors.New("unexpected message for role")
	ErrMissingContract       = errors.New("contract not yet built")
	ErrMissingMultisigHexes  = errors.New("missing multisig hex of peers")
	ErrFeeOutOfTolerance     = errors.New("payout tx fee is out of tolerance")
	ErrInvalidTradeState     = errors.New("operation not allowed in current trade state")
	ErrTxDoubleSpend         = errors.New("tx is a double spend")
	ErrTxNotAccepted         = errors.New("tx not accepted by daemon")
)

// ErrorKind classifies the failure of a protocol task.
type ErrorKind int

const (
	// ProtocolViolation is returned when a peer sends invalid or
	// inconsistent data.
	ProtocolViolation ErrorKind = iota
	// TransportFault is returned when a peer can't be reached in time.
	TransportFault
	// FundsSafetyViolation is returned when a tx doesn't move the funds as
	// agreed.
	FundsSafetyViolation
)

func (k ErrorKind) String() string {
	switch k {
	case ProtocolViolation:
		return "protocol violation"
	case TransportFault:
		return "transport fault"
	case FundsSafetyViolation:
		return "funds safety violation"
	default:
		return "unknown"
	}
}

// TaskError is the error returned by a failed pipeline.
type TaskError struct {
	Kind ErrorKind
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s in task %s: %s", e.Kind, e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsFundsSafetyViolation returns whether err is a funds safety violation.
func IsFundsSafetyViolation(err error) bool {
	return isKind(err, FundsSafetyViolation)
}

// IsProtocolViolation returns whether err is a protocol violation.
func IsProtocolViolation(err error) bool {
	return isKind(err, ProtocolViolation)
}

// IsTransportFault returns whether err is a transport fault.
func IsTransportFault(err error) bool {
	return isKind(err, TransportFault)
}

func isKind(err error, kind ErrorKind) bool {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Kind == kind
	}
	var kindErr *kindError
	if errors.As(err, &kindErr) {
		return kindErr.kind == kind
	}
	return false
}

// kindError tags an error returned by a task with its kind, so that the
// runner can classify it.
type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

func violation(format string, args ...interface{}) error {
	return &kindError{ProtocolViolation, fmt.Errorf(format, args...)}
}

func transportFault(err error) error {
	return &kindError{TransportFault, err}
}

func fundsViolation(format string, args ...interface{}) error {
	return &kindError{FundsSafetyViolation, fmt.Errorf(format, args...)}
}

// kindOf returns the kind of the error returned by a task. Errors not
// explicitly tagged are protocol violations.
func kindOf(err error) ErrorKind {
	var kindErr *kindError
	if errors.As(err, &kindErr) {
		return kindErr.kind
	}
	return ProtocolViolation
}
