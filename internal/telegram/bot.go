// Package telegram provides a Telegram bot for threadline.
//
// Uses long polling, so no public URL or webhook is needed. Each chat is one
// conversation whose remote session id is remembered between messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/session"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// Relay runs a turn for a conversation key.
type Relay interface {
	Send(ctx context.Context, key, input string) (orchestrator.Result, error)
	Reset(key string) error
}

// Bot is the Telegram bot.
type Bot struct {
	api    *tgbotapi.BotAPI
	relay  Relay
	logger *slog.Logger
}

// NewBot creates a new Telegram bot.
func NewBot(token string, relay Relay, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram")
	logger.Info("bot authorized", "username", api.Self.UserName)

	return &Bot{api: api, relay: relay, logger: logger}, nil
}

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("listening for messages")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	replyTo := msg.MessageID
	key := conversationKey(chatID)

	switch {
	case text == "":
		return
	case text == "/start" || text == "/help":
		b.sendReply(chatID, replyTo, ""+
			"*threadline* \\- ask a question, get an answer grounded in fresh web results\\.\n\n"+
			"Just send your question\\. I remember the conversation in this chat\\.\n"+
			"Send /new to start over\\.")
		return
	case text == "/new":
		if err := b.relay.Reset(key); err != nil {
			b.logger.Warn("resetting conversation", "conversation", key, "error", err)
		}
		b.sendReply(chatID, replyTo, "Starting a new conversation\\.")
		return
	}

	b.sendTyping(chatID)
	res, err := b.relay.Send(ctx, key, text)
	if err != nil {
		b.logger.Warn("turn failed", "conversation", key, "error", err)
		b.sendReply(chatID, replyTo, "❌ "+escapeMarkdown(session.UserMessage(err)))
		return
	}
	for _, part := range splitMessage(res.Reply, maxMessageLen) {
		b.sendReply(chatID, replyTo, part)
	}
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("sending chat action", "error", err)
	}
}

// sendReply sends a MarkdownV2 message as a reply.
func (b *Bot) sendReply(chatID int64, replyTo int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("sending message", "chat_id", chatID, "error", err)
		// Retry without markdown in case of parse errors.
		msg.ParseMode = ""
		msg.Text = stripMarkdown(text)
		b.api.Send(msg)
	}
}

func conversationKey(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// splitMessage escapes s for MarkdownV2 and cuts it into parts of at most
// max runes each, preferring line breaks. Parts are cut on the raw text, so an
// escape sequence is never split.
func splitMessage(s string, max int) []string {
	runes := []rune(s)
	var parts []string
	for len(runes) > 0 {
		width, cut, lineEnd := 0, len(runes), 0
		for i, r := range runes {
			w := escapedWidth(r)
			if width+w > max {
				cut = i
				break
			}
			width += w
			if r == '\n' {
				lineEnd = i + 1
			}
		}
		if cut < len(runes) && lineEnd > cut/2 {
			cut = lineEnd
		}
		if cut == 0 {
			cut = 1
		}
		parts = append(parts, escapeMarkdown(strings.TrimRight(string(runes[:cut]), "\n")))
		runes = runes[cut:]
	}
	return parts
}

// markdownSpecial lists the characters MarkdownV2 requires escaping.
const markdownSpecial = "\\_*[]()~`>#+-=|{}.!"

func escapedWidth(r rune) int {
	if strings.ContainsRune(markdownSpecial, r) {
		return 2
	}
	return 1
}

var markdownEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var markdownUnescaper = strings.NewReplacer(
	"\\\\", "\\",
	"\\*", "*",
	"\\_", "_",
	"\\[", "[",
	"\\]", "]",
	"\\(", "(",
	"\\)", ")",
	"\\~", "~",
	"\\`", "`",
	"\\>", ">",
	"\\#", "#",
	"\\+", "+",
	"\\-", "-",
	"\\=", "=",
	"\\|", "|",
	"\\{", "{",
	"\\}", "}",
	"\\.", ".",
	"\\!", "!",
)

// stripMarkdown removes MarkdownV2 escape sequences for plain text fallback.
func stripMarkdown(s string) string {
	return markdownUnescaper.Replace(s)
}
