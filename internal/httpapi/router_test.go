package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overbridge/chatgate/internal/audit"
	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/challenge"
	"github.com/overbridge/chatgate/internal/config"
	"github.com/overbridge/chatgate/internal/resume"
	"github.com/overbridge/chatgate/internal/security"
)

type memMapping struct {
	users map[string]string
}

func (m *memMapping) GetUser(id string) string { return m.users[id] }

func (m *memMapping) MapUser(id, mf string) error {
	m.users[id] = mf
	return nil
}

func (m *memMapping) RemoveUser(id string) error {
	delete(m.users, id)
	return nil
}

type memProvider struct {
	creds map[string]security.Credential
}

func (p *memProvider) GetCredential(_ context.Context, user security.ChatUser) (security.Credential, error) {
	return p.creds[user.DistributedID], nil
}

func (p *memProvider) ExchangeCredential(_ context.Context, user security.ChatUser, secret string) (bool, error) {
	p.creds[user.DistributedID] = security.Credential{Kind: security.CredentialToken, Value: secret}
	return true, nil
}

func (p *memProvider) Logout(_ context.Context, user security.ChatUser) error {
	delete(p.creds, user.DistributedID)
	return nil
}

// passwordVerifier accepts exactly one password.
type passwordVerifier struct{}

func (passwordVerifier) VerifyCredentials(_ context.Context, _, secret string) (bool, error) {
	return secret == "correct", nil
}

func (passwordVerifier) ExchangeToken(context.Context, string, string) (security.Credential, error) {
	return security.Credential{Kind: security.CredentialToken, Value: "tok"}, nil
}

type testEnv struct {
	handler http.Handler
	broker  *challenge.Broker
	mapping *memMapping
	audit   *audit.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mapping := &memMapping{users: map[string]string{}}
	provider := &memProvider{creds: map[string]security.Credential{}}

	auditStore, err := audit.New(filepath.Join(t.TempDir(), "audit.db"), logger)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })
	if err := auditStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	manager := security.NewManager(mapping, provider, passwordVerifier{}, security.Backend{Host: "mf.example.test"}, auditStore, logger)
	broker := challenge.NewBroker("https://chatgate.example.test", 0, logger)

	engine := resume.New(1, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Start(ctx)

	cfg := config.Config{
		PublicURL:          "https://chatgate.example.test",
		BotName:            "bot",
		AuthStrategy:       "token",
		LoginRatePerSecond: 100,
		LoginRateBurst:     100,
	}
	handler := NewRouter(Dependencies{
		Config:   cfg,
		Security: manager,
		Broker:   broker,
		Resume:   engine,
		Audit:    auditStore,
		Logger:   logger,
	})
	return &testEnv{handler: handler, broker: broker, mapping: mapping, audit: auditStore}
}

func (e *testEnv) postLogin(t *testing.T, challengeToken, user, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"challenge": challengeToken,
		"user":      user,
		"password":  password,
	})
	if err != nil {
		t.Fatalf("marshal login request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) pendingToken(resume func(context.Context)) string {
	link := e.broker.Generate(bot.User{ID: "u1", Name: "alice", Email: "alice@example.test"}, resume)
	_, token, _ := strings.Cut(link, "?__key=")
	return token
}

func TestLoginUnknownChallenge(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postLogin(t, "no-such-token", "ALICEMF", "correct")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(env.mapping.users) != 0 {
		t.Fatalf("unknown challenge must not mutate the mapping: %v", env.mapping.users)
	}
}

func TestLoginBadCredentialsLeavesPendingIntact(t *testing.T) {
	env := newTestEnv(t)
	token := env.pendingToken(func(context.Context) {})

	rec := env.postLogin(t, token, "ALICEMF", "wrong")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if _, ok := env.broker.Lookup(token); !ok {
		t.Fatal("failed login must leave the pending challenge retryable")
	}
	if len(env.mapping.users) != 0 {
		t.Fatalf("failed login must not persist a mapping: %v", env.mapping.users)
	}
}

func TestLoginSuccessPersistsMappingAndResumes(t *testing.T) {
	env := newTestEnv(t)
	resumed := make(chan struct{})
	token := env.pendingToken(func(context.Context) { close(resumed) })

	rec := env.postLogin(t, token, "ALICEMF", "correct")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if env.mapping.users["alice"] != "ALICEMF" {
		t.Fatalf("mapping not persisted: %v", env.mapping.users)
	}
	if _, ok := env.broker.Lookup(token); ok {
		t.Fatal("challenge must be single-use")
	}
	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation was not resumed")
	}
}

func TestLoginRetryAfterFailureSucceeds(t *testing.T) {
	env := newTestEnv(t)
	token := env.pendingToken(func(context.Context) {})

	if rec := env.postLogin(t, token, "ALICEMF", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt status = %d, want 401", rec.Code)
	}
	if rec := env.postLogin(t, token, "ALICEMF", "correct"); rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", rec.Code)
	}
}

func TestLoginRejectsIncompletePayload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postLogin(t, "", "ALICEMF", "correct")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLoginPage(t *testing.T) {
	env := newTestEnv(t)
	token := env.pendingToken(func(context.Context) {})

	req := httptest.NewRequest(http.MethodGet, "/login?__key="+token, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Log in to the mainframe") {
		t.Fatalf("unexpected login page body: %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/login?__key=bogus", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown token status = %d, want 403", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/api/v1/info"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuditEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.pendingToken(func(context.Context) {})
	env.postLogin(t, token, "ALICEMF", "correct")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events?limit=10", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Items []map[string]any `json:"items"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode audit payload: %v", err)
	}
	if payload.Count < 1 {
		t.Fatalf("expected at least one audit event, got %d", payload.Count)
	}
}

func TestLoginRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mapping := &memMapping{users: map[string]string{}}
	provider := &memProvider{creds: map[string]security.Credential{}}
	auditStore, err := audit.New(filepath.Join(t.TempDir(), "audit.db"), logger)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })
	if err := auditStore.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	manager := security.NewManager(mapping, provider, passwordVerifier{}, security.Backend{}, nil, logger)
	broker := challenge.NewBroker("https://chatgate.example.test", 0, logger)
	handler := NewRouter(Dependencies{
		Config: config.Config{
			LoginRatePerSecond: 0.001,
			LoginRateBurst:     2,
		},
		Security: manager,
		Broker:   broker,
		Resume:   resume.New(1, logger),
		Audit:    auditStore,
		Logger:   logger,
	})

	env := &testEnv{handler: handler, broker: broker, mapping: mapping, audit: auditStore}
	statuses := []int{}
	for i := 0; i < 4; i++ {
		rec := env.postLogin(t, "whatever", "ALICEMF", "correct")
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusForbidden || statuses[1] != http.StatusForbidden {
		t.Fatalf("burst requests rejected early: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests || statuses[3] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 beyond burst, got %v", statuses)
	}
}
