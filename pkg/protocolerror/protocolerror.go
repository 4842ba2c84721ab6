// Package protocolerror defines the small, shared vocabulary of error codes
// exchanged with the sync server (spec.md §7's error taxonomy), plus the two
// exception types — IntegrationException and PendingBootstrapException —
// that carry a code out of the history, bootstrap, and wire layers.
package protocolerror

import "fmt"

// Code is a protocol-level error code echoed to the server or surfaced to a
// session error handler.
type Code int

const (
	OtherSessionError Code = iota
	BadOriginFileIdent
	BadChangeset
	BadChangesetSize
	BadSyntax
	UnknownMessage
	DecompressionUnsupported
	IncompatibleHistorySchema
	SchemaMismatch
)

func (c Code) String() string {
	switch c {
	case OtherSessionError:
		return "other_session_error"
	case BadOriginFileIdent:
		return "bad_origin_file_ident"
	case BadChangeset:
		return "bad_changeset"
	case BadChangesetSize:
		return "bad_changeset_size"
	case BadSyntax:
		return "bad_syntax"
	case UnknownMessage:
		return "unknown_message"
	case DecompressionUnsupported:
		return "decompression_unsupported"
	case IncompatibleHistorySchema:
		return "incompatible_history_schema"
	case SchemaMismatch:
		return "schema_mismatch"
	default:
		return "unknown_code"
	}
}

// IntegrationException is raised when a remote changeset fails to apply
// during history integration (spec.md §4.G step 7).
type IntegrationException struct {
	Code Code
	Msg  string
}

func (e *IntegrationException) Error() string {
	return fmt.Sprintf("integration error (%s): %s", e.Code, e.Msg)
}

// NewIntegrationException constructs an IntegrationException carrying code
// as given; callers pass OtherSessionError when no more specific code applies.
func NewIntegrationException(code Code, msg string) *IntegrationException {
	return &IntegrationException{Code: code, Msg: msg}
}

// PendingBootstrapException is raised by the bootstrap store on an
// unrecoverable condition such as a nonportable-compression mismatch.
type PendingBootstrapException struct {
	Code Code
	Msg  string
}

func (e *PendingBootstrapException) Error() string {
	return fmt.Sprintf("bootstrap error (%s): %s", e.Code, e.Msg)
}

func NewPendingBootstrapException(code Code, msg string) *PendingBootstrapException {
	return &PendingBootstrapException{Code: code, Msg: msg}
}
