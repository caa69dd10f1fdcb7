// Package zosmf implements the security.Verifier contract against a z/OSMF
// server. Authentication is probed with a basic-auth REST request; a session
// token is minted by reading the LTPA cookie the server sets on success.
package zosmf

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/overbridge/chatgate/internal/security"
)

const (
	probeResource   = "/zosmf/restjobs/jobs"
	ltpaCookieName  = "LtpaToken2"
	defaultTimeout  = 15 * time.Second
	csrfHeaderName  = "X-CSRF-ZOSMF-HEADER"
	csrfHeaderValue = "chatgate"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(backend security.Backend, logger *slog.Logger) *Client {
	transport := &http.Transport{}
	if !backend.RejectUnauthorized {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: fmt.Sprintf("%s://%s:%d", backend.Protocol, backend.Host, backend.Port),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		logger: logger,
	}
}

func (c *Client) probe(ctx context.Context, account, secret string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+probeResource, nil)
	if err != nil {
		return nil, fmt.Errorf("build zosmf request: %w", err)
	}
	req.SetBasicAuth(account, secret)
	req.Header.Set(csrfHeaderName, csrfHeaderValue)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zosmf request: %w", err)
	}
	return resp, nil
}

// VerifyCredentials reports whether the account and secret are accepted by
// the backend. Unreachable backends are errors, not rejections.
func (c *Client) VerifyCredentials(ctx context.Context, account, secret string) (bool, error) {
	resp, err := c.probe(ctx, account, secret)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("zosmf returned unexpected status %d", resp.StatusCode)
	}
}

// ExchangeToken logs in and returns the LTPA session token the server set.
// Rejected credentials and a missing cookie both yield an undefined
// credential with a nil error.
func (c *Client) ExchangeToken(ctx context.Context, account, secret string) (security.Credential, error) {
	resp, err := c.probe(ctx, account, secret)
	if err != nil {
		return security.Credential{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return security.Credential{Kind: security.CredentialUndefined}, nil
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == ltpaCookieName && strings.TrimSpace(cookie.Value) != "" {
			return security.Credential{
				Kind:  security.CredentialToken,
				Value: cookie.Name + "=" + cookie.Value,
			}, nil
		}
	}
	c.logger.Debug("zosmf login succeeded but no session cookie was set", "account", account)
	return security.Credential{Kind: security.CredentialUndefined}, nil
}
