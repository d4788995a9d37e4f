// Package slack provides a Slack bot for threadline using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket, so no public URL is needed.
// Every Slack thread that mentions the bot is one conversation: its remote
// session id is remembered, and replies are posted back into the thread.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/session"
)

// Relay runs a turn for a conversation key.
type Relay interface {
	Send(ctx context.Context, key, input string) (orchestrator.Result, error)
	Reset(key string) error
}

// Bot is the Slack Socket Mode bot.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	relay        Relay
	logger       *slog.Logger
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, relay Relay, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "slack")

	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(slog.NewLogLogger(logger.Handler(), slog.LevelDebug)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		relay:        relay,
		logger:       logger,
	}
}

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	b.logger.Info("connecting via Socket Mode")
	return b.socketClient.RunContext(ctx)
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Debug("connecting")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("connection error, will retry")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Slack requires an ack within 3 seconds; turns take much longer.
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				go b.handleMention(ctx, ev)
			}
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	text := stripMention(ev.Text)

	// Reply in the thread of the original message.
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}
	key := conversationKey(ev.Channel, threadTS)

	switch strings.ToLower(text) {
	case "":
		b.postThread(ev.Channel, threadTS, "Ask me anything. Example:\n`@threadline what's the latest on AI adoption in Jamaica?`")
		return
	case "new", "reset":
		if err := b.relay.Reset(key); err != nil {
			b.logger.Warn("resetting conversation", "conversation", key, "error", err)
		}
		b.postThread(ev.Channel, threadTS, ":sparkles: Starting a new conversation in this thread.")
		return
	}

	b.addReaction(ev.Channel, ev.TimeStamp, "hourglass_flowing_sand")
	res, err := b.relay.Send(ctx, key, text)
	if err != nil {
		b.logger.Warn("turn failed", "conversation", key, "error", err)
		b.postThread(ev.Channel, threadTS, fmt.Sprintf(":x: %s", session.UserMessage(err)))
		return
	}
	b.postThread(ev.Channel, threadTS, res.Reply)
}

// postThread sends a plain text message as a thread reply.
func (b *Bot) postThread(channel, threadTS, text string) {
	_, _, err := b.api.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.logger.Warn("posting message", "channel", channel, "error", err)
	}
}

func (b *Bot) addReaction(channel, ts, name string) {
	if err := b.api.AddReaction(name, slack.NewRefToMessage(channel, ts)); err != nil {
		b.logger.Debug("adding reaction", "channel", channel, "error", err)
	}
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// stripMention removes user mentions such as <@U12345> from text.
func stripMention(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

func conversationKey(channel, threadTS string) string {
	return "slack:" + channel + ":" + threadTS
}
