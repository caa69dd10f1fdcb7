package security

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/overbridge/chatgate/internal/bot"
)

type mapMapping struct {
	users map[string]string
}

func (m *mapMapping) GetUser(id string) string { return m.users[id] }

func (m *mapMapping) MapUser(id, mf string) error {
	m.users[id] = mf
	return nil
}

func (m *mapMapping) RemoveUser(id string) error {
	delete(m.users, id)
	return nil
}

type stubVerifier struct {
	ok  bool
	err error
}

func (v stubVerifier) VerifyCredentials(context.Context, string, string) (bool, error) {
	return v.ok, v.err
}

func (v stubVerifier) ExchangeToken(context.Context, string, string) (Credential, error) {
	return Credential{Kind: CredentialToken, Value: "tok"}, nil
}

type stubProvider struct {
	exchangeOK  bool
	exchangeErr error
	credential  Credential
}

func (p *stubProvider) GetCredential(context.Context, ChatUser) (Credential, error) {
	return p.credential, nil
}

func (p *stubProvider) ExchangeCredential(context.Context, ChatUser, string) (bool, error) {
	return p.exchangeOK, p.exchangeErr
}

func (p *stubProvider) Logout(context.Context, ChatUser) error { return nil }

func newTestManager(verifier Verifier, provider Provider) (*Manager, *mapMapping) {
	mapping := &mapMapping{users: map[string]string{}}
	manager := NewManager(mapping, provider, verifier, Backend{Host: "mf.example.test"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return manager, mapping
}

func candidate() Candidate {
	return Candidate{
		User:        bot.User{ID: "u1", Name: "alice", Email: "alice@example.test"},
		MainframeID: "ALICEMF",
		Secret:      "secret",
	}
}

func TestAuthenticateUserMapsOnFullSuccess(t *testing.T) {
	manager, mapping := newTestManager(stubVerifier{ok: true}, &stubProvider{exchangeOK: true})

	ok, err := manager.AuthenticateUser(context.Background(), candidate())
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if !ok {
		t.Fatal("expected authentication to succeed")
	}
	if mapping.users["alice"] != "ALICEMF" {
		t.Fatalf("mapping not persisted: %v", mapping.users)
	}
}

func TestExchangeRejectionDoesNotPersistMapping(t *testing.T) {
	manager, mapping := newTestManager(stubVerifier{ok: true}, &stubProvider{exchangeOK: false})

	ok, err := manager.AuthenticateUser(context.Background(), candidate())
	if err != nil {
		t.Fatalf("expected nil error for a rejected exchange, got %v", err)
	}
	if ok {
		t.Fatal("authentication must fail when the credential exchange is rejected")
	}
	if len(mapping.users) != 0 {
		t.Fatalf("mapping persisted despite rejected exchange: %v", mapping.users)
	}
}

func TestExchangeErrorDoesNotPersistMapping(t *testing.T) {
	provider := &stubProvider{exchangeErr: errors.New("mint unavailable")}
	manager, mapping := newTestManager(stubVerifier{ok: true}, provider)

	ok, err := manager.AuthenticateUser(context.Background(), candidate())
	if err != nil {
		t.Fatalf("expected exchange errors to degrade to false, got %v", err)
	}
	if ok {
		t.Fatal("authentication must fail when the credential exchange errors")
	}
	if len(mapping.users) != 0 {
		t.Fatalf("mapping persisted despite failed exchange: %v", mapping.users)
	}
}

func TestVerifierRejectionDoesNotExchange(t *testing.T) {
	provider := &stubProvider{exchangeOK: true}
	manager, mapping := newTestManager(stubVerifier{ok: false}, provider)

	ok, err := manager.AuthenticateUser(context.Background(), candidate())
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for rejected credentials, got (%v, %v)", ok, err)
	}
	if len(mapping.users) != 0 {
		t.Fatalf("mapping persisted despite rejected credentials: %v", mapping.users)
	}
}

func TestVerifierErrorDegradesToFailure(t *testing.T) {
	manager, mapping := newTestManager(stubVerifier{err: errors.New("zosmf unreachable")}, &stubProvider{exchangeOK: true})

	ok, err := manager.AuthenticateUser(context.Background(), candidate())
	if err != nil || ok {
		t.Fatalf("expected (false, nil) when the verifier is unreachable, got (%v, %v)", ok, err)
	}
	if len(mapping.users) != 0 {
		t.Fatalf("mapping persisted despite verifier outage: %v", mapping.users)
	}
}

func TestChatUserFallsBackToEmail(t *testing.T) {
	manager, mapping := newTestManager(stubVerifier{ok: true}, &stubProvider{exchangeOK: true})
	mapping.users["alice@example.test"] = "ALICEMF"

	user, ok := manager.ChatUser(bot.User{Name: "alice", Email: "alice@example.test"})
	if !ok {
		t.Fatal("expected email fallback to resolve the mapping")
	}
	if user.DistributedID != "alice@example.test" || user.MainframeID != "ALICEMF" {
		t.Fatalf("unexpected chat user %+v", user)
	}
}

func TestPrincipalAbsentWithoutLiveCredential(t *testing.T) {
	manager, mapping := newTestManager(stubVerifier{ok: true}, &stubProvider{})
	mapping.users["alice"] = "ALICEMF"

	if !manager.IsAuthenticated(bot.User{Name: "alice"}) {
		t.Fatal("mapped user must report authenticated")
	}
	_, ok := manager.Principal(context.Background(), ChatUser{DistributedID: "alice", MainframeID: "ALICEMF"})
	if ok {
		t.Fatal("expected no principal without a live credential")
	}
}
