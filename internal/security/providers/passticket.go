package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/overbridge/chatgate/internal/security"
)

// Passticket shells out to a signed helper binary to mint a one-time
// passticket per call. Passtickets are single-use, so there is no cache and
// GetCredential mints fresh every time. Mint failures are soft: callers get
// an empty credential and route the user to re-login.
type Passticket struct {
	binary string
	applID string
	logger *slog.Logger
}

type passticketResult struct {
	SafRC      int    `json:"safRc"`
	RacfRC     int    `json:"racfRc"`
	RacfReason int    `json:"racfReason"`
	Passticket string `json:"passticket"`
}

func NewPassticket(binary, applID string, logger *slog.Logger) (*Passticket, error) {
	info, err := os.Stat(binary)
	if err != nil {
		return nil, fmt.Errorf("passticket helper binary %s: %w", binary, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("passticket helper binary %s is not a regular file", binary)
	}
	return &Passticket{binary: binary, applID: applID, logger: logger}, nil
}

func (p *Passticket) GetCredential(ctx context.Context, user security.ChatUser) (security.Credential, error) {
	out, err := exec.CommandContext(ctx, p.binary, p.applID, user.MainframeID).Output()
	if err != nil {
		p.logger.Error("passticket mint failed", "mainframe_id", user.MainframeID, "error", err)
		return security.Credential{Kind: security.CredentialUndefined}, nil
	}
	result := passticketResult{}
	if err := json.Unmarshal(out, &result); err != nil {
		p.logger.Error("passticket helper returned unparsable output", "mainframe_id", user.MainframeID, "error", err)
		return security.Credential{Kind: security.CredentialUndefined}, nil
	}
	if result.Passticket == "" {
		p.logger.Error("passticket mint rejected",
			"mainframe_id", user.MainframeID,
			"saf_rc", result.SafRC,
			"racf_rc", result.RacfRC,
			"racf_reason", result.RacfReason)
		return security.Credential{Kind: security.CredentialUndefined}, nil
	}
	return security.Credential{Kind: security.CredentialPassticket, Value: result.Passticket}, nil
}

// ExchangeCredential is a no-op: passtickets are minted per call, there is
// nothing to exchange at login time.
func (p *Passticket) ExchangeCredential(ctx context.Context, user security.ChatUser, secret string) (bool, error) {
	return true, nil
}

func (p *Passticket) Logout(ctx context.Context, user security.ChatUser) error {
	return nil
}
