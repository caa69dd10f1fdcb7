package providers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/overbridge/chatgate/internal/security"
)

// Token caches backend session tokens in memory for the process lifetime.
// Nothing is persisted: a restart empties the cache and every mapped user
// goes through the session-expired re-login path.
type Token struct {
	mu       sync.Mutex
	cache    map[string]security.Credential
	verifier security.Verifier
	logger   *slog.Logger
}

func NewToken(verifier security.Verifier, logger *slog.Logger) *Token {
	return &Token{
		cache:    map[string]security.Credential{},
		verifier: verifier,
		logger:   logger,
	}
}

func cacheKey(user security.ChatUser) string {
	return user.DistributedID + ":" + user.MainframeID
}

// ExchangeCredential performs the login-and-mint round trip and caches the
// resulting session token.
func (t *Token) ExchangeCredential(ctx context.Context, user security.ChatUser, secret string) (bool, error) {
	credential, err := t.verifier.ExchangeToken(ctx, user.MainframeID, secret)
	if err != nil {
		return false, err
	}
	if credential.Empty() {
		return false, nil
	}
	t.mu.Lock()
	t.cache[cacheKey(user)] = credential
	t.mu.Unlock()
	return true, nil
}

// GetCredential returns the cached token, or an undefined credential when
// none exists. The caller surfaces that as "no principal", not as an error.
func (t *Token) GetCredential(ctx context.Context, user security.ChatUser) (security.Credential, error) {
	t.mu.Lock()
	credential, ok := t.cache[cacheKey(user)]
	t.mu.Unlock()
	if !ok {
		return security.Credential{Kind: security.CredentialUndefined}, nil
	}
	return credential, nil
}

func (t *Token) Logout(ctx context.Context, user security.ChatUser) error {
	t.mu.Lock()
	delete(t.cache, cacheKey(user))
	t.mu.Unlock()
	return nil
}
