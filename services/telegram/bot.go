package telegram

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rostergate/rostergate/services/inbound"
	"github.com/rostergate/rostergate/services/router"
	"github.com/rostergate/rostergate/util"
	log "github.com/sirupsen/logrus"
)

// Sender is the part of the Bot API used for replies.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Submitter interface {
	Submit(ctx context.Context, job inbound.Job) error
}

type Bot struct {
	api    *tgbotapi.BotAPI
	sender Sender
	pool   Submitter
	teamID string
	chats  util.ChatConfig
	cfg    util.TelegramConfig
}

// NewBot connects to the Bot API. Updates are accepted once a pool is
// attached with UsePool.
func NewBot(cfg util.TelegramConfig, teamID string, chats util.ChatConfig) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is not configured")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	api.Debug = cfg.Debug

	log.WithFields(log.Fields{
		"context": "telegram",
		"bot":     api.Self.UserName,
		"mode":    cfg.Mode,
	}).Info("connected to telegram")

	return &Bot{
		api:    api,
		sender: api,
		teamID: teamID,
		chats:  chats,
		cfg:    cfg,
	}, nil
}

func (b *Bot) UsePool(pool Submitter) {
	b.pool = pool
}

func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Accept maps an update and queues it for the workers.
func (b *Bot) Accept(ctx context.Context, update tgbotapi.Update) error {
	if b.pool == nil {
		return errors.New("telegram bot has no worker pool")
	}

	in, ok := ToMessage(update, b.teamID, b.chats)
	if !ok {
		return nil
	}

	return b.pool.Submit(ctx, inbound.Job{
		Message: in.Message,
		Reply: func(_ context.Context, res router.Response) error {
			_, err := b.sender.Send(Reply(in, res))
			return err
		},
	})
}

// Poll reads updates with long polling until ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.Accept(ctx, update); err != nil {
				if errors.Is(err, inbound.ErrPoolStopped) || ctx.Err() != nil {
					return nil
				}
				log.WithError(err).WithField("context", "telegram").Error("failed to queue update")
			}
		}
	}
}

// RegisterWebhook points Telegram at the configured webhook URL.
func (b *Bot) RegisterWebhook() error {
	wh, err := tgbotapi.NewWebhook(b.cfg.WebhookURL)
	if err != nil {
		return err
	}
	_, err = b.api.Request(wh)
	return err
}

// WebhookHandler accepts updates pushed by Telegram. It answers as soon
// as the update is queued.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			log.WithError(err).WithField("context", "telegram").Warn("invalid webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err = b.Accept(r.Context(), *update); err != nil {
			log.WithError(err).WithField("context", "telegram").Error("failed to queue update")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}
