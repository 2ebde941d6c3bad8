package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Options configure the Telegram long-poll loop.
type Options struct {
	Token       string
	PollTimeout int
	Debug       bool

	// APIEndpoint is a format string taking the token and the method; empty selects api.telegram.org.
	APIEndpoint string
}

// Bot receives chat commands over Telegram long polling.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	timeout int
	logger  zerolog.Logger
}

// New authenticates against the Bot API.
func New(opts Options, handler *Handler, logger zerolog.Logger) (*Bot, error) {
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(opts.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	api.Debug = opts.Debug

	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = 60
	}

	b := &Bot{
		api:     api,
		handler: handler,
		timeout: timeout,
		logger:  logger.With().Str("component", "bot").Logger(),
	}
	b.logger.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")
	return b, nil
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil || msg.From.ID <= 0 {
		return
	}

	owner := uint64(msg.From.ID)
	command := msg.Command()
	b.logger.Debug().Uint64("owner", owner).Str("command", command).Str("args", msg.CommandArguments()).Msg("received command")

	reply := tgbotapi.NewMessage(msg.Chat.ID, b.handler.Handle(ctx, owner, command, msg.CommandArguments()))
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Warn().Err(err).Uint64("owner", owner).Msg("cannot respond to command")
	}
}
