package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/challenge"
	"github.com/overbridge/chatgate/internal/obs"
	"github.com/overbridge/chatgate/internal/security"
)

// EventDispatcher routes platform interactions (button clicks, dialog
// submits, dropdown selects) back to the plugins that rendered them. The
// authentication gate applies exactly as for messages.
type EventDispatcher struct {
	mu          sync.RWMutex
	entries     []Entry
	transport   bot.Transport
	security    *security.Manager
	broker      *challenge.Broker
	pluginLimit int
	logger      *slog.Logger
}

func NewEventDispatcher(transport bot.Transport, manager *security.Manager, broker *challenge.Broker, pluginLimit int, logger *slog.Logger) *EventDispatcher {
	return &EventDispatcher{
		transport:   transport,
		security:    manager,
		broker:      broker,
		pluginLimit: pluginLimit,
		logger:      logger,
	}
}

func (d *EventDispatcher) Register(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].Plugin.Priority < d.entries[j].Plugin.Priority
	})
}

func (d *EventDispatcher) registered() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]Entry, len(d.entries))
	copy(entries, d.entries)
	return entries
}

// Match filters the registry by the originating plugin id embedded in the
// event, then runs each surviving handler's predicate against its own
// context clone.
func (d *EventDispatcher) Match(chat bot.Context) []MatchedEntry {
	if chat.Payload.Kind != bot.PayloadEvent || chat.Payload.Event == nil {
		return nil
	}
	pluginID := chat.Payload.Event.PluginID
	matched := []MatchedEntry{}
	for _, entry := range d.registered() {
		if pluginID != "" && entry.Plugin.Package != pluginID {
			continue
		}
		clone := cloneContext(chat)
		if d.safeMatch(entry, clone) {
			matched = append(matched, MatchedEntry{Entry: entry, Chat: clone})
		}
	}
	return matched
}

// Dispatch runs the full pipeline for one platform event. For a dialog-open
// action whose first response message is the platform's synchronous dialog
// payload, that message is returned to the caller instead of being pushed
// through Send; the transport's webhook handler answers the platform with
// it. A handler error aborts the remaining fan-out for this event but
// never crashes the dispatcher.
func (d *EventDispatcher) Dispatch(ctx context.Context, chat bot.Context) *bot.Message {
	matched := d.Match(chat)
	if len(matched) == 0 {
		return nil
	}
	obs.DispatchMatched.WithLabelValues("event").Inc()

	principal, ok := d.gate(ctx, chat)
	if !ok {
		return nil
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
		obs.HandlersInvoked.WithLabelValues("event").Inc()
		if err != nil {
			d.logger.Error("event handler failed", "handler", match.Entry.Name, "error", err)
			break
		}
		if result.Unauthorized {
			unauthorized = true
		}
		if len(result.Messages) == 0 {
			continue
		}
		// The platform is blocked waiting on the dialog payload, so hand
		// it back right away; remaining fan-out is skipped.
		if d.isSynchronousDialog(chat, result.Messages[0]) {
			message := result.Messages[0]
			return &message
		}
		if err := d.transport.Send(ctx, chat, result.Messages); err != nil {
			d.logger.Error("transport send failed", "handler", match.Entry.Name, "error", err)
		}
	}

	if unauthorized {
		d.issueChallenge(ctx, chat, "unauthorized",
			"Hello @%s, your login expired. Please visit %s to log in again.")
	}
	return nil
}

// isSynchronousDialog reports whether the message must be handed back on
// the inbound webhook response rather than pushed. Only the MS Teams
// dialog payload uses call/response semantics; Mattermost and Slack open
// dialogs through their own REST calls on the send path. Anything else
// paired with a dialog-open action is an unsupported combination.
func (d *EventDispatcher) isSynchronousDialog(chat bot.Context, message bot.Message) bool {
	if chat.Payload.Event.Action != bot.ActionDialogOpen {
		return false
	}
	switch message.Type {
	case bot.MessageMsteamsDialogOpen:
		return true
	case bot.MessageMattermostDialog, bot.MessageSlackViewOpen:
		return false
	default:
		d.logger.Error("unsupported dialog response type", "type", message.Type)
		return false
	}
}

func (d *EventDispatcher) gate(ctx context.Context, chat bot.Context) (security.Principal, bool) {
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

func (d *EventDispatcher) issueChallenge(ctx context.Context, chat bot.Context, reason, format string) {
	link := d.broker.Generate(chat.User, func(resumeCtx context.Context) {
		d.Dispatch(resumeCtx, chat)
	})
	obs.ChallengesIssued.WithLabelValues(reason).Inc()
	obs.PendingChallenges.Set(float64(d.broker.PendingCount()))
	d.reply(ctx, chat, fmt.Sprintf(format, displayName(chat.User), link))
}

func (d *EventDispatcher) reply(ctx context.Context, chat bot.Context, text string) {
	message := bot.Message{Type: bot.MessagePlainText, Text: text}
	if err := d.transport.Send(ctx, chat, []bot.Message{message}); err != nil {
		d.logger.Error("transport send failed", "error", err)
	}
}

func (d *EventDispatcher) safeMatch(entry Entry, chat bot.Context) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler match panicked", "handler", entry.Name, "panic", r)
			matched = false
		}
	}()
	return entry.Handler.Match(chat)
}
