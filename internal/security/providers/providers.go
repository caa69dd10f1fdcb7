// Package providers implements the credential provider strategies. The
// strategy is fixed at process start; an unknown or unsupported strategy is
// a configuration error and must keep the process from starting.
package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/overbridge/chatgate/internal/security"
)

var ErrUnknownStrategy = errors.New("unknown authentication strategy")

type Options struct {
	Verifier         security.Verifier
	PassticketBinary string
	PassticketApplID string
	Logger           *slog.Logger
}

// ForStrategy selects the configured provider.
func ForStrategy(strategy string, opts Options) (security.Provider, error) {
	switch strategy {
	case "password":
		return NewPassword(opts.Logger), nil
	case "token":
		return NewToken(opts.Verifier, opts.Logger), nil
	case "passticket":
		if runtime.GOARCH != "s390x" {
			return nil, fmt.Errorf("passticket authentication requires a z architecture host, running on %s", runtime.GOARCH)
		}
		return NewPassticket(opts.PassticketBinary, opts.PassticketApplID, opts.Logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}
