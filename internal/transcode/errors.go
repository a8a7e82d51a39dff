package transcode

import (
	"errors"
	"fmt"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/format"
)

// Kind classifies a job failure.
type Kind int

// Failure kinds.
const (
	KindNeedsMoreData Kind = iota + 1
	KindUnsupportedFormat
	KindStreamNotFound
	KindCodecUnavailable
	KindCodecError
	KindResourceExhaustion
	KindProtocolMisuse
	KindAborted
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrStreamNotFound     = errors.New("stream not found")
	ErrCodecUnavailable   = errors.New("codec unavailable")
	ErrCodecError         = errors.New("codec error")
	ErrResourceExhaustion = errors.New("resource exhaustion")
	ErrProtocolMisuse     = errors.New("protocol misuse")
	ErrAborted            = errors.New("aborted")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNeedsMoreData:
		return ErrNeedMoreData
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindStreamNotFound:
		return ErrStreamNotFound
	case KindCodecUnavailable:
		return ErrCodecUnavailable
	case KindCodecError:
		return ErrCodecError
	case KindResourceExhaustion:
		return ErrResourceExhaustion
	case KindProtocolMisuse:
		return ErrProtocolMisuse
	case KindAborted:
		return ErrAborted
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindNeedsMoreData:
		return "needs more data"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindStreamNotFound:
		return "stream not found"
	case KindCodecUnavailable:
		return "codec unavailable"
	case KindCodecError:
		return "codec error"
	case KindResourceExhaustion:
		return "resource exhaustion"
	case KindProtocolMisuse:
		return "protocol misuse"
	case KindAborted:
		return "aborted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label is the kind as a metric label value.
func (k Kind) Label() string {
	switch k {
	case KindNeedsMoreData:
		return "needs_more_data"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindStreamNotFound:
		return "stream_not_found"
	case KindCodecUnavailable:
		return "codec_unavailable"
	case KindCodecError:
		return "codec_error"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindProtocolMisuse:
		return "protocol_misuse"
	case KindAborted:
		return "aborted"
	}
	return "unknown"
}

// Error is the failure reported by a Job: the kind, the state the job was
// in and the underlying cause.
type Error struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transcode: %s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("transcode: %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// newError builds an *Error, keeping err unchanged if it already is one.
func newError(kind Kind, stage State, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// classify maps capability sentinels onto kinds. Errors matching none of
// them get fallback.
func classify(err error, fallback Kind) Kind {
	var te *Error
	switch {
	case errors.As(err, &te):
		return te.Kind
	case errors.Is(err, ErrNeedMoreData):
		return KindNeedsMoreData
	case errors.Is(err, errPendingLimit):
		return KindResourceExhaustion
	case errors.Is(err, codec.ErrUnavailable):
		return KindCodecUnavailable
	case errors.Is(err, format.ErrUnsupported):
		return KindUnsupportedFormat
	}
	return fallback
}
