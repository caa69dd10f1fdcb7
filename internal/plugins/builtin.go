package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/dispatcher"
	"github.com/overbridge/chatgate/internal/security"
)

// command extracts the first word after the bot mention, lowercased.
// Returns "" when the text is not a mention followed by a command.
func command(text, botName string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 || fields[0] != "@"+botName {
		return ""
	}
	return strings.ToLower(fields[1])
}

type logoutHandler struct {
	security *security.Manager
	botName  string
	logger   *slog.Logger
}

func newLogoutHandler(deps Deps, _ Spec) (dispatcher.Handler, error) {
	return &logoutHandler{security: deps.Security, botName: deps.BotName, logger: deps.Logger}, nil
}

func (h *logoutHandler) Match(chat bot.Context) bool {
	return command(chat.Payload.Text, h.botName) == "logout"
}

func (h *logoutHandler) Process(ctx context.Context, envelope dispatcher.Envelope) (dispatcher.Result, error) {
	user := envelope.Principal.User
	if err := h.security.Logout(ctx, user); err != nil {
		h.logger.Error("logout failed", "distributed_id", user.DistributedID, "error", err)
		return dispatcher.Result{Messages: []bot.Message{{
			Type: bot.MessagePlainText,
			Text: fmt.Sprintf("Failed to log out user %s. Please try again later.", user.DistributedID),
		}}}, nil
	}
	return dispatcher.Result{Messages: []bot.Message{{
		Type: bot.MessagePlainText,
		Text: fmt.Sprintf("Successfully logged out user %s.", user.DistributedID),
	}}}, nil
}

type whoamiHandler struct {
	botName string
}

func newWhoamiHandler(deps Deps, _ Spec) (dispatcher.Handler, error) {
	return &whoamiHandler{botName: deps.BotName}, nil
}

func (h *whoamiHandler) Match(chat bot.Context) bool {
	return command(chat.Payload.Text, h.botName) == "whoami"
}

func (h *whoamiHandler) Process(_ context.Context, envelope dispatcher.Envelope) (dispatcher.Result, error) {
	user := envelope.Principal.User
	return dispatcher.Result{Messages: []bot.Message{{
		Type: bot.MessagePlainText,
		Text: fmt.Sprintf("You are logged in as %s, mapped from %s.", user.MainframeID, user.DistributedID),
	}}}, nil
}

type helpHandler struct {
	botName string
}

func newHelpHandler(deps Deps, _ Spec) (dispatcher.Handler, error) {
	return &helpHandler{botName: deps.BotName}, nil
}

func (h *helpHandler) Match(chat bot.Context) bool {
	return command(chat.Payload.Text, h.botName) == "help"
}

func (h *helpHandler) Process(context.Context, dispatcher.Envelope) (dispatcher.Result, error) {
	text := fmt.Sprintf("Commands: @%s help, @%s whoami, @%s logout.", h.botName, h.botName, h.botName)
	return dispatcher.Result{Messages: []bot.Message{{Type: bot.MessagePlainText, Text: text}}}, nil
}
