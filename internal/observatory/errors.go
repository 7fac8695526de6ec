package observatory

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/raysh454/webaudit/internal/module"
)

var (
	// ErrTransport covers connection failures and non-2xx answers.
	ErrTransport = fmt.Errorf("observatory: %w", module.ErrTransport)

	// ErrDecode means the body was not the JSON we expected.
	ErrDecode = fmt.Errorf("observatory: %w", module.ErrDecode)

	// ErrTimeout means the call outlived its deadline.
	ErrTimeout = fmt.Errorf("observatory: %w", module.ErrTimeout)
)

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
