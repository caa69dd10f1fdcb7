// Package dispatcher routes inbound chat units to registered plugin
// handlers. Every handler invocation sits behind the authentication gate:
// no plugin code runs for a chat identity that is not mapped to a mainframe
// account holding a live credential. Unauthenticated users get a one-time
// login link instead, with the interrupted dispatch resumed after the web
// login completes.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/challenge"
	"github.com/overbridge/chatgate/internal/obs"
	"github.com/overbridge/chatgate/internal/security"
)

// PluginInfo is the registration metadata carried alongside a handler.
// Priority orders both matching and fan-out, ascending, 1 most urgent.
type PluginInfo struct {
	Package  string
	Version  string
	Priority int
}

// Envelope is the typed view a handler receives for one invocation. It is
// passed by value so one plugin can never observe or mutate another's view.
type Envelope struct {
	Chat      bot.Context
	Plugin    PluginInfo
	Principal security.Principal
	Backend   security.Backend
}

// Result is one handler's output. Unauthorized signals that a downstream
// backend call failed authorization despite a seemingly valid credential;
// the dispatcher answers it with a single consolidated re-login notice
// after fan-out.
type Result struct {
	Messages     []bot.Message
	Unauthorized bool
}

// Handler is the plugin contract. Match is a cheap predicate over the
// inbound unit; Process runs only for authenticated users.
type Handler interface {
	Match(chat bot.Context) bool
	Process(ctx context.Context, envelope Envelope) (Result, error)
}

// Entry is one registered handler.
type Entry struct {
	Name    string
	Plugin  PluginInfo
	Handler Handler
}

// MatchedEntry pairs an entry with the context clone its Match predicate
// accepted. The clone is what Process later receives.
type MatchedEntry struct {
	Entry Entry
	Chat  bot.Context
}

// MessageDispatcher drives match, gate, fan-out and respond for inbound
// chat messages.
type MessageDispatcher struct {
	mu          sync.RWMutex
	entries     []Entry
	transport   bot.Transport
	security    *security.Manager
	broker      *challenge.Broker
	pluginLimit int
	logger      *slog.Logger
}

func NewMessageDispatcher(transport bot.Transport, manager *security.Manager, broker *challenge.Broker, pluginLimit int, logger *slog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		transport:   transport,
		security:    manager,
		broker:      broker,
		pluginLimit: pluginLimit,
		logger:      logger,
	}
}

// Register appends an entry and re-sorts the registry by ascending
// priority. The sort is stable, so registration order is preserved among
// equal priorities. Duplicate names are permitted.
func (d *MessageDispatcher) Register(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].Plugin.Priority < d.entries[j].Plugin.Priority
	})
}

func (d *MessageDispatcher) registered() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]Entry, len(d.entries))
	copy(entries, d.entries)
	return entries
}

// Match returns the entries whose predicates accept the inbound message,
// in priority order, each paired with its own context clone. Units not
// addressed to the bot are rejected before any predicate runs.
func (d *MessageDispatcher) Match(chat bot.Context) []MatchedEntry {
	if chat.Payload.Kind != bot.PayloadMessage {
		return nil
	}
	if !d.addressedToBot(chat) {
		return nil
	}
	matched := []MatchedEntry{}
	for _, entry := range d.registered() {
		clone := cloneContext(chat)
		if d.safeMatch(entry, clone) {
			matched = append(matched, MatchedEntry{Entry: entry, Chat: clone})
		}
	}
	return matched
}

// Dispatch runs the full pipeline for one inbound message. Handler errors
// are logged and never abort sibling handlers.
func (d *MessageDispatcher) Dispatch(ctx context.Context, chat bot.Context) {
	matched := d.Match(chat)
	if len(matched) > 0 {
		obs.DispatchMatched.WithLabelValues("message").Inc()
	}
	if len(matched) == 0 {
		if d.addressedToBot(chat) {
			d.reply(ctx, chat, fmt.Sprintf("Hello @%s, I do not understand the question. Ask me for help to see what I can do.", displayName(chat.User)))
		}
		return
	}

	principal, ok := d.gate(ctx, chat)
	if !ok {
		return
	}

	limit := clampLimit(d.pluginLimit, len(matched))
	unauthorized := false
	for _, match := range matched[:limit] {
		envelope := Envelope{
			Chat:      match.Chat,
			Plugin:    match.Entry.Plugin,
			Principal: principal,
			Backend:   d.security.Backend(),
		}
		result, err := safeProcess(ctx, match.Entry, envelope)
		obs.HandlersInvoked.WithLabelValues("message").Inc()
		if err != nil {
			d.logger.Error("handler failed", "handler", match.Entry.Name, "error", err)
			continue
		}
		if result.Unauthorized {
			unauthorized = true
		}
		if len(result.Messages) > 0 {
			if err := d.transport.Send(ctx, chat, result.Messages); err != nil {
				d.logger.Error("transport send failed", "handler", match.Entry.Name, "error", err)
			}
		}
	}

	if unauthorized {
		d.issueChallenge(ctx, chat, "unauthorized",
			"Hello @%s, your login expired. Please visit %s to log in again.")
	}
}

// gate resolves the principal for the inbound user. On either failure mode
// it sends a login-link notice with a continuation that re-runs Dispatch,
// and reports false so no handler is invoked.
func (d *MessageDispatcher) gate(ctx context.Context, chat bot.Context) (security.Principal, bool) {
	chatUser, ok := d.security.ChatUser(chat.User)
	if !ok {
		d.issueChallenge(ctx, chat, "not_logged_in",
			"Hello @%s, you are not currently logged in. Please visit %s to log in.")
		return security.Principal{}, false
	}
	principal, ok := d.security.Principal(ctx, chatUser)
	if !ok {
		d.issueChallenge(ctx, chat, "session_expired",
			"Hello @%s, your login expired. Please visit %s to log in again.")
		return security.Principal{}, false
	}
	return principal, true
}

func (d *MessageDispatcher) issueChallenge(ctx context.Context, chat bot.Context, reason, format string) {
	link := d.broker.Generate(chat.User, func(resumeCtx context.Context) {
		d.Dispatch(resumeCtx, chat)
	})
	obs.ChallengesIssued.WithLabelValues(reason).Inc()
	obs.PendingChallenges.Set(float64(d.broker.PendingCount()))
	d.reply(ctx, chat, fmt.Sprintf(format, displayName(chat.User), link))
}

func (d *MessageDispatcher) reply(ctx context.Context, chat bot.Context, text string) {
	message := bot.Message{Type: bot.MessagePlainText, Text: text}
	if err := d.transport.Send(ctx, chat, []bot.Message{message}); err != nil {
		d.logger.Error("transport send failed", "error", err)
	}
}

func (d *MessageDispatcher) addressedToBot(chat bot.Context) bool {
	mention := "@" + d.transport.Option().BotName
	return strings.HasPrefix(strings.TrimSpace(chat.Payload.Text), mention)
}

func (d *MessageDispatcher) safeMatch(entry Entry, chat bot.Context) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler match panicked", "handler", entry.Name, "panic", r)
			matched = false
		}
	}()
	return entry.Handler.Match(chat)
}

func safeProcess(ctx context.Context, entry Entry, envelope Envelope) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = fmt.Errorf("handler %s panicked: %v", entry.Name, r)
		}
	}()
	return entry.Handler.Process(ctx, envelope)
}

// clampLimit applies min(limit, matched); a negative limit means no limit.
func clampLimit(limit, matched int) int {
	if limit < 0 || limit > matched {
		return matched
	}
	return limit
}

func displayName(user bot.User) string {
	if user.Name != "" {
		return user.Name
	}
	if user.Email != "" {
		return user.Email
	}
	return user.ID
}

// cloneContext deep-copies the inbound unit so handlers cannot share
// mutable state through the event data map.
func cloneContext(chat bot.Context) bot.Context {
	clone := chat
	if chat.Payload.Event != nil {
		event := *chat.Payload.Event
		if event.Data != nil {
			event.Data = maps.Clone(event.Data)
		}
		clone.Payload.Event = &event
	}
	return clone
}
