package providers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/overbridge/chatgate/internal/security"
)

// ErrPasswordNotImplemented marks the password strategy as an incomplete
// design point: selecting it succeeds, but credential calls fail soft and
// every dispatch resolves into a re-login prompt.
var ErrPasswordNotImplemented = errors.New("password credential provider is not implemented")

// Password is a stub. Passwords are not cached, so downstream calls would
// need to re-supply one per call; this strategy was never finished.
type Password struct {
	logger *slog.Logger
}

func NewPassword(logger *slog.Logger) *Password {
	return &Password{logger: logger}
}

func (p *Password) GetCredential(ctx context.Context, user security.ChatUser) (security.Credential, error) {
	return security.Credential{}, ErrPasswordNotImplemented
}

func (p *Password) ExchangeCredential(ctx context.Context, user security.ChatUser, secret string) (bool, error) {
	return false, ErrPasswordNotImplemented
}

func (p *Password) Logout(ctx context.Context, user security.ChatUser) error {
	return nil
}
