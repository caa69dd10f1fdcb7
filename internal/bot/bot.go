// Package bot holds the canonical types exchanged between the chat
// transport, the dispatchers and the plugin handlers. The transport is an
// external collaborator: anything that can normalize platform traffic into a
// Context and deliver Messages back satisfies Transport.
package bot

import "context"

// User is the identity as known to the chat platform. Which of the three
// identifiers is reliably present varies by platform, so consumers try Name
// first and fall back to Email.
type User struct {
	ID    string
	Name  string
	Email string
}

// Channel identifies where an inbound unit originated and where replies go.
type Channel struct {
	ID   string
	Name string
}

type PayloadKind string

const (
	PayloadMessage PayloadKind = "message"
	PayloadEvent   PayloadKind = "event"
)

type ActionType string

const (
	ActionDialogOpen     ActionType = "dialog_open"
	ActionButtonClick    ActionType = "button_click"
	ActionDropdownSelect ActionType = "dropdown_select"
)

// Event is a platform interaction (button click, dialog submit) routed back
// to the plugin that rendered the interactive element.
type Event struct {
	PluginID string
	Action   ActionType
	Data     map[string]any
}

// Payload carries either message text or an event, never both.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Event *Event
}

// Context is one inbound unit from the chat transport.
type Context struct {
	User    User
	Channel Channel
	Payload Payload
}

type MessageType string

const (
	MessagePlainText         MessageType = "plain_text"
	MessageMattermostDialog  MessageType = "mattermost_dialog_open"
	MessageSlackViewOpen     MessageType = "slack_view_open"
	MessageMsteamsDialogOpen MessageType = "msteams_dialog_open"
)

// Message is one outbound unit. Text carries plain replies; Body carries the
// platform-native payload for dialog message types.
type Message struct {
	Type MessageType
	Text string
	Body any
}

// Option is the transport's static option block.
type Option struct {
	Platform string
	BotName  string
}

// Transport is the chat-side collaborator contract. Send delivers one
// handler's output in a single call; the dispatchers never batch output
// across handlers.
type Transport interface {
	Send(ctx context.Context, chat Context, messages []Message) error
	Option() Option
}
