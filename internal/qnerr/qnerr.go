// Package qnerr defines the typed error kinds shared across the consensus
// and execution core, per the propagation policy in spec §7.
package qnerr

import "fmt"

// Kind classifies an error for caller-driven handling. Callers switch on
// Kind rather than on error string content.
type Kind string

const (
	InvalidSignature    Kind = "InvalidSignature"
	UnknownNode         Kind = "UnknownNode"
	NotEligible         Kind = "NotEligible"
	DuplicateCommit     Kind = "DuplicateCommit"
	CommitMissing       Kind = "CommitMissing"
	RevealMismatch      Kind = "RevealMismatch"
	DeadlineExceeded    Kind = "DeadlineExceeded"
	DuplicateProof      Kind = "DuplicateProof"
	InsufficientPayment Kind = "InsufficientPayment"
	OwnerAlreadyActive  Kind = "OwnerAlreadyActive"
	WrongPhase          Kind = "WrongPhase"
	UnknownNodeType     Kind = "UnknownNodeType"
	InsufficientBalance Kind = "InsufficientBalance"
	InvalidNonce        Kind = "InvalidNonce"
	ShardNotManaged     Kind = "ShardNotManaged"
	QueueFull           Kind = "QueueFull"
	QuotaExceeded       Kind = "QuotaExceeded"
	Blacklisted         Kind = "Blacklisted"
	ReplayDetected      Kind = "ReplayDetected"
	Corruption          Kind = "Corruption"
	Internal            Kind = "Internal"
)

// Error is a typed core error. Fields is optional structured detail
// (e.g. InsufficientPayment carries required/given) rendered via Error().
type Error struct {
	Kind   Kind
	Msg    string
	Fields map[string]any
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Msg, e.Fields)
}

// New builds a typed error with no extra fields.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithFields attaches structured detail (e.g. {"required": x, "given": y}).
func (e *Error) WithFields(fields map[string]any) *Error {
	e.Fields = fields
	return e
}

// Is reports whether err is a core error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
