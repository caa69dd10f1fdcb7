// Package challenge bridges an asynchronous chat-side authentication
// requirement to the synchronous web login form, and resumes the chat-side
// workflow afterward.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/obs"
)

// Pending is one outstanding challenge. It is consumed at most once, by a
// successful web login; a failed login leaves it intact so the same link can
// be retried.
type Pending struct {
	Token     string
	User      bot.User
	Resume    func(context.Context)
	CreatedAt time.Time
}

type Broker struct {
	mu      sync.Mutex
	pending map[string]Pending
	baseURL string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewBroker creates a broker issuing links under baseURL. A zero ttl keeps
// unconsumed challenges alive indefinitely; Sweep is a no-op then.
func NewBroker(baseURL string, ttl time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		pending: map[string]Pending{},
		baseURL: baseURL,
		ttl:     ttl,
		logger:  logger,
	}
}

// Generate issues a one-time challenge link for the user and captures the
// resume hook invoked after a successful login. Two calls for the same user
// yield two independently resolvable tokens.
func (b *Broker) Generate(user bot.User, resume func(context.Context)) string {
	raw := make([]byte, 15)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken, which is not recoverable here.
		panic(fmt.Sprintf("challenge token entropy unavailable: %v", err))
	}
	token := base64.URLEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%s:%s:%s:%s", user.Name, user.Email, user.ID, hex.EncodeToString(raw))))

	b.mu.Lock()
	b.pending[token] = Pending{
		Token:     token,
		User:      user,
		Resume:    resume,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Unlock()

	b.logger.Debug("challenge issued", "user", user.Name)
	return b.baseURL + "/login?__key=" + token
}

// Lookup returns the pending entry without consuming it.
func (b *Broker) Lookup(token string) (Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[token]
	return entry, ok
}

// Consume deletes and returns the pending entry. Tokens are single-use:
// only the login handler calls this, and only after authentication passed.
func (b *Broker) Consume(token string) (Pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[token]
	if ok {
		delete(b.pending, token)
	}
	return entry, ok
}

// PendingCount returns the number of outstanding challenges.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Sweep expires unconsumed challenges older than the configured ttl and
// returns how many were removed.
func (b *Broker) Sweep(now time.Time) int {
	if b.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-b.ttl)

	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for token, entry := range b.pending {
		if entry.CreatedAt.Before(cutoff) {
			delete(b.pending, token)
			removed++
		}
	}
	if removed > 0 {
		b.logger.Info("expired unconsumed challenges", "count", removed)
		obs.PendingChallenges.Set(float64(len(b.pending)))
	}
	return removed
}
