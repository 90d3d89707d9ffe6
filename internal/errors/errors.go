// Package errors defines the stable, kind-tagged error taxonomy used across
// the engine (spec §7). Every error that crosses a package boundary is, or
// wraps, an *Error so callers and tests can switch on Kind without parsing
// strings. The shape (message + wrapped cause) follows the teacher's
// UserError, but engine errors are machine-readable first: Kind is the
// stable identifier, the wrapped Err carries the human-readable detail for
// whatever presentation layer the embedding host builds.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies the category of failure.
type Kind string

const (
	KindProtocol           Kind = "protocol_error"
	KindSchema             Kind = "schema_error"
	KindTimeout            Kind = "timeout"
	KindDisconnected       Kind = "disconnected"
	KindBackpressure       Kind = "backpressure"
	KindAborted            Kind = "aborted"
	KindTransfer           Kind = "transfer_error"
	KindIncompleteDownload Kind = "incomplete_download"
	KindSession            Kind = "session_error"
	KindConfig             Kind = "config_error"
	KindTransport          Kind = "transport_error"
)

// ProtocolReason further classifies a KindProtocol error (spec §4.1).
type ProtocolReason string

const (
	ReasonBadMagic       ProtocolReason = "bad_magic"
	ReasonBadTrailer     ProtocolReason = "bad_trailer"
	ReasonBadChecksum    ProtocolReason = "bad_checksum"
	ReasonLengthExceeded ProtocolReason = "length_exceeded"
	ReasonShortBuffer    ProtocolReason = "short_buffer"
)

// Error is the concrete error type returned by every engine package.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "FrameCodec.TryParse".
	Op string
	// Reason carries the protocol sub-classification when Kind == KindProtocol.
	Reason ProtocolReason
	// ChunkIndex/HasChunk are populated for KindTransfer / KindIncompleteDownload.
	ChunkIndex int
	HasChunk   bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "":
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Reason, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Reason)
	case e.HasChunk:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (chunk %d): %v", e.Op, e.Kind, e.ChunkIndex, e.Err)
		}
		return fmt.Sprintf("%s: %s (chunk %d)", e.Op, e.Kind, e.ChunkIndex)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: KindTimeout}) match on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if stderrors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func New(op string, kind Kind, err error) *Error { return &Error{Op: op, Kind: kind, Err: err} }

func Protocol(op string, reason ProtocolReason, err error) *Error {
	return &Error{Op: op, Kind: KindProtocol, Reason: reason, Err: err}
}

func Schema(op string, err error) *Error { return &Error{Op: op, Kind: KindSchema, Err: err} }

func Timeout(op string) *Error { return &Error{Op: op, Kind: KindTimeout} }

func Disconnected(op string) *Error { return &Error{Op: op, Kind: KindDisconnected} }

func Backpressure(op string) *Error { return &Error{Op: op, Kind: KindBackpressure} }

func Aborted(op string) *Error { return &Error{Op: op, Kind: KindAborted} }

func Transfer(op string, chunkIndex int, err error) *Error {
	return &Error{Op: op, Kind: KindTransfer, ChunkIndex: chunkIndex, HasChunk: true, Err: err}
}

func IncompleteDownload(op string, chunkIndex int) *Error {
	return &Error{Op: op, Kind: KindIncompleteDownload, ChunkIndex: chunkIndex, HasChunk: true}
}

func Session(op string, err error) *Error { return &Error{Op: op, Kind: KindSession, Err: err} }

func Config(op string, err error) *Error { return &Error{Op: op, Kind: KindConfig, Err: err} }

func Transport(op string, err error) *Error { return &Error{Op: op, Kind: KindTransport, Err: err} }

// KindOf returns the Kind of err if it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
