// Package security decides whether a chat identity is known and
// authenticated, and produces the principal plugin handlers run as.
package security

import "context"

// ChatUser is one resolved identity pairing. Immutable once constructed.
type ChatUser struct {
	DistributedID string
	MainframeID   string
}

type CredentialKind string

const (
	CredentialUndefined  CredentialKind = "undefined"
	CredentialPassword   CredentialKind = "password"
	CredentialToken      CredentialKind = "token"
	CredentialPassticket CredentialKind = "passticket"
)

// Credential is the live backend secret usable for downstream calls. It is
// owned by the provider that produced it and only leaves through
// GetCredential.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Empty reports whether the credential is unusable for downstream calls.
func (c Credential) Empty() bool {
	return c.Kind == CredentialUndefined || c.Kind == "" || c.Value == ""
}

// Principal is the authenticated subject passed into handler invocations.
// Constructed fresh per dispatch, never persisted.
type Principal struct {
	User       ChatUser
	Credential Credential
}

// Backend is a snapshot of the backend connection settings handed to plugin
// handlers alongside the principal.
type Backend struct {
	Protocol           string
	Host               string
	Port               int
	RejectUnauthorized bool
}

// Verifier performs the actual login against the backend system. It is an
// external collaborator: the manager only needs pass/fail and, for the token
// strategy, a minted session credential.
type Verifier interface {
	VerifyCredentials(ctx context.Context, account, secret string) (bool, error)
	ExchangeToken(ctx context.Context, account, secret string) (Credential, error)
}

// Provider retrieves, exchanges and invalidates one backend credential per
// mainframe account. Soft failures (no cached credential, mint failure)
// surface as an empty credential, not an error.
type Provider interface {
	GetCredential(ctx context.Context, user ChatUser) (Credential, error)
	ExchangeCredential(ctx context.Context, user ChatUser, secret string) (bool, error)
	Logout(ctx context.Context, user ChatUser) error
}

// Mapping is the durable distributed-id to mainframe-id table.
type Mapping interface {
	GetUser(distributedID string) string
	MapUser(distributedID, mainframeID string) error
	RemoveUser(distributedID string) error
}
