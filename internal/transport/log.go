package transport

import (
	"context"
	"log/slog"

	"github.com/overbridge/chatgate/internal/bot"
)

// Log is the fallback transport used when no chat connection is
// configured: outbound messages land in the service log. Useful for
// exercising the web surface without a chat server.
type Log struct {
	botName string
	logger  *slog.Logger
}

func NewLog(botName string, logger *slog.Logger) *Log {
	return &Log{botName: botName, logger: logger}
}

func (l *Log) Option() bot.Option {
	return bot.Option{Platform: "log", BotName: l.botName}
}

func (l *Log) Send(_ context.Context, chat bot.Context, messages []bot.Message) error {
	for _, message := range messages {
		l.logger.Info("outbound message",
			"channel", chat.Channel.Name, "user", chat.User.Name,
			"type", message.Type, "text", message.Text)
	}
	return nil
}
