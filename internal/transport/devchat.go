// Package transport carries chat traffic in and out of the dispatchers.
// The production deployments sit behind platform adapters; devchat is the
// built-in development transport speaking a small JSON frame protocol over
// a websocket to a local dummy chat server.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overbridge/chatgate/internal/bot"
)

// MessageSink receives inbound chat messages.
type MessageSink interface {
	Dispatch(ctx context.Context, chat bot.Context)
}

// EventSink receives inbound platform events. A non-nil return is a
// synchronous dialog payload answered on the same connection.
type EventSink interface {
	Dispatch(ctx context.Context, chat bot.Context) *bot.Message
}

type userFrame struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type channelFrame struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type eventFrame struct {
	PluginID string         `json:"plugin_id"`
	Action   string         `json:"action"`
	Data     map[string]any `json:"data"`
}

type messageFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Body any    `json:"body,omitempty"`
}

// frame is one unit on the wire, both directions. Inbound kinds are
// "message" and "event"; outbound kinds are "reply" and "dialog".
type frame struct {
	Kind     string         `json:"kind"`
	User     userFrame      `json:"user,omitempty"`
	Channel  channelFrame   `json:"channel"`
	Text     string         `json:"text,omitempty"`
	Event    *eventFrame    `json:"event,omitempty"`
	Messages []messageFrame `json:"messages,omitempty"`
}

// DevChat connects to a dummy chat server, feeds inbound frames to the
// dispatchers one at a time and writes replies back on the same socket.
type DevChat struct {
	url      string
	botName  string
	messages MessageSink
	events   EventSink
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewDevChat(url, botName string, messages MessageSink, events EventSink, logger *slog.Logger) *DevChat {
	return &DevChat{
		url:      url,
		botName:  botName,
		messages: messages,
		events:   events,
		logger:   logger,
	}
}

// Bind sets the dispatch sinks. The transport and the dispatchers refer to
// each other, so wiring happens in two steps: construct, then bind. Must be
// called before Start.
func (d *DevChat) Bind(messages MessageSink, events EventSink) {
	d.messages = messages
	d.events = events
}

func (d *DevChat) Option() bot.Option {
	return bot.Option{Platform: "devchat", BotName: d.botName}
}

// Send delivers one handler's output as a single reply frame.
func (d *DevChat) Send(_ context.Context, chat bot.Context, messages []bot.Message) error {
	out := frame{
		Kind:    "reply",
		Channel: channelFrame{ID: chat.Channel.ID, Name: chat.Channel.Name},
	}
	for _, message := range messages {
		out.Messages = append(out.Messages, messageFrame{
			Type: string(message.Type),
			Text: message.Text,
			Body: message.Body,
		})
	}
	return d.write(out)
}

func (d *DevChat) write(out frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return fmt.Errorf("devchat: not connected")
	}
	return d.conn.WriteJSON(out)
}

// Start dials the dummy chat server and pumps inbound frames until the
// context is cancelled, reconnecting with a fixed backoff on any failure.
func (d *DevChat) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runConnection(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("devchat connection lost", "url", d.url, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (d *DevChat) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.url, err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		conn.Close()
	}()
	d.logger.Info("devchat connected", "url", d.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var in frame
		if err := conn.ReadJSON(&in); err != nil {
			return err
		}
		d.handle(ctx, in)
	}
}

// handle feeds one inbound frame to the matching dispatcher. Frames are
// processed sequentially per connection, preserving channel ordering.
func (d *DevChat) handle(ctx context.Context, in frame) {
	chat := bot.Context{
		User:    bot.User{ID: in.User.ID, Name: in.User.Name, Email: in.User.Email},
		Channel: bot.Channel{ID: in.Channel.ID, Name: in.Channel.Name},
	}
	switch in.Kind {
	case "message":
		chat.Payload = bot.Payload{Kind: bot.PayloadMessage, Text: in.Text}
		d.messages.Dispatch(ctx, chat)
	case "event":
		if in.Event == nil {
			d.logger.Error("devchat event frame without event body")
			return
		}
		chat.Payload = bot.Payload{
			Kind: bot.PayloadEvent,
			Event: &bot.Event{
				PluginID: in.Event.PluginID,
				Action:   bot.ActionType(in.Event.Action),
				Data:     in.Event.Data,
			},
		}
		if dialog := d.events.Dispatch(ctx, chat); dialog != nil {
			out := frame{
				Kind:    "dialog",
				Channel: channelFrame{ID: chat.Channel.ID, Name: chat.Channel.Name},
				Messages: []messageFrame{{
					Type: string(dialog.Type),
					Text: dialog.Text,
					Body: dialog.Body,
				}},
			}
			if err := d.write(out); err != nil {
				d.logger.Error("devchat dialog write failed", "error", err)
			}
		}
	default:
		d.logger.Error("devchat unknown frame kind", "kind", in.Kind)
	}
}
