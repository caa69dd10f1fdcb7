package security

import (
	"context"
	"log/slog"

	"github.com/overbridge/chatgate/internal/bot"
)

// AuditSink receives security-relevant events. Satisfied by the audit store;
// nil-safe via the noop sink.
type AuditSink interface {
	Record(ctx context.Context, kind, user, detail string)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, string, string, string) {}

// Candidate is a proposed mainframe login submitted through the web login
// surface on behalf of a chat user.
type Candidate struct {
	User        bot.User
	MainframeID string
	Secret      string
}

// Manager is the single authority on chat-user authentication state.
type Manager struct {
	mapping  Mapping
	provider Provider
	verifier Verifier
	backend  Backend
	audit    AuditSink
	logger   *slog.Logger
}

func NewManager(mapping Mapping, provider Provider, verifier Verifier, backend Backend, audit AuditSink, logger *slog.Logger) *Manager {
	if audit == nil {
		audit = noopAudit{}
	}
	return &Manager{
		mapping:  mapping,
		provider: provider,
		verifier: verifier,
		backend:  backend,
		audit:    audit,
		logger:   logger,
	}
}

// Backend returns the connection snapshot injected into dispatch envelopes.
func (m *Manager) Backend() Backend {
	return m.backend
}

// AuthenticateUser verifies the candidate against the backend, exchanges the
// secret for a provider credential and persists the identity mapping.
// Expected authentication failures return false with a nil error; only a
// mapping write failure is an error.
func (m *Manager) AuthenticateUser(ctx context.Context, candidate Candidate) (bool, error) {
	account := candidate.MainframeID
	ok, err := m.verifier.VerifyCredentials(ctx, account, candidate.Secret)
	if err != nil {
		m.logger.Error("backend verification unavailable", "account", account, "error", err)
		m.audit.Record(ctx, "login_failure", candidate.User.Name, "verifier unavailable")
		return false, nil
	}
	if !ok {
		m.logger.Debug("backend rejected credentials", "account", account)
		m.audit.Record(ctx, "login_failure", candidate.User.Name, "invalid credentials")
		return false, nil
	}

	user := ChatUser{DistributedID: candidate.User.Name, MainframeID: account}
	exchanged, err := m.provider.ExchangeCredential(ctx, user, candidate.Secret)
	if err != nil {
		m.logger.Error("credential exchange failed", "account", account, "error", err)
		m.audit.Record(ctx, "login_failure", candidate.User.Name, "credential exchange failed")
		return false, nil
	}
	if !exchanged {
		m.logger.Debug("credential exchange rejected", "account", account)
		m.audit.Record(ctx, "login_failure", candidate.User.Name, "credential exchange rejected")
		return false, nil
	}

	if err := m.mapping.MapUser(user.DistributedID, user.MainframeID); err != nil {
		return false, err
	}
	m.audit.Record(ctx, "login_success", candidate.User.Name, "mapped to "+account)
	m.logger.Info("user authenticated", "distributed_id", user.DistributedID, "mainframe_id", user.MainframeID)
	return true, nil
}

// IsAuthenticated reports whether the mapping store knows the chat user,
// trying name first and falling back to email.
func (m *Manager) IsAuthenticated(user bot.User) bool {
	_, ok := m.ChatUser(user)
	return ok
}

// ChatUser resolves the chat user's identity mapping.
func (m *Manager) ChatUser(user bot.User) (ChatUser, bool) {
	for _, id := range []string{user.Name, user.Email} {
		if id == "" {
			continue
		}
		if mainframeID := m.mapping.GetUser(id); mainframeID != "" {
			return ChatUser{DistributedID: id, MainframeID: mainframeID}, true
		}
	}
	m.logger.Debug("user not found in mapping store", "name", user.Name, "email", user.Email)
	return ChatUser{}, false
}

// Principal returns the currently-credentialed subject for the chat user,
// or false when no live credential exists. The distinction from
// IsAuthenticated is deliberate: a mapped user without a credential is the
// "session expired" case, not the "never logged in" case.
func (m *Manager) Principal(ctx context.Context, user ChatUser) (Principal, bool) {
	credential, err := m.provider.GetCredential(ctx, user)
	if err != nil {
		m.logger.Debug("credential retrieval failed", "distributed_id", user.DistributedID, "error", err)
		return Principal{}, false
	}
	if credential.Empty() {
		return Principal{}, false
	}
	return Principal{User: user, Credential: credential}, true
}

// Logout discards any cached credential and removes the identity mapping.
func (m *Manager) Logout(ctx context.Context, user ChatUser) error {
	if err := m.provider.Logout(ctx, user); err != nil {
		m.logger.Error("provider logout failed", "distributed_id", user.DistributedID, "error", err)
	}
	if err := m.mapping.RemoveUser(user.DistributedID); err != nil {
		return err
	}
	m.audit.Record(ctx, "logout", user.DistributedID, "")
	return nil
}
