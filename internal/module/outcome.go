package module

import (
	"context"
	"errors"
	"fmt"
)

// Failure sentinels shared by modules and the clients they use. Wrap them so
// KindOf can classify the error.
var (
	ErrTransport        = errors.New("transport failure")
	ErrDecode           = errors.New("decode failure")
	ErrTimeout          = errors.New("timeout")
	ErrRemoteScanFailed = errors.New("remote scan failed")
	ErrStorage          = errors.New("storage failure")
)

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransport
	FailureDecode
	FailureTimeout
	FailureRemoteScanFailed
	FailureStorage
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureDecode:
		return "decode"
	case FailureTimeout:
		return "timeout"
	case FailureRemoteScanFailed:
		return "remote_scan_failed"
	case FailureStorage:
		return "storage"
	case FailureInternal:
		return "internal"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FailureKind) UnmarshalText(text []byte) error {
	for c := FailureNone; c <= FailureInternal; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", text)
}

// KindOf classifies err. Unknown errors are FailureInternal.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrDecode):
		return FailureDecode
	case errors.Is(err, ErrTransport):
		return FailureTransport
	case errors.Is(err, ErrRemoteScanFailed):
		return FailureRemoteScanFailed
	case errors.Is(err, ErrStorage):
		return FailureStorage
	default:
		return FailureInternal
	}
}

// Outcome is the result of one AnalyseDomain call. OK is true only when the
// whole analysis completed. Result is the module's canonical record and is
// set on success.
type Outcome struct {
	OK     bool
	Kind   FailureKind
	Err    error
	Result any
}

func Success(result any) Outcome {
	return Outcome{OK: true, Kind: FailureNone, Result: result}
}

// Failure builds a failed Outcome classified by KindOf.
func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return Outcome{OK: false, Kind: KindOf(err), Err: err}
}
