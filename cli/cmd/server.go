package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rostergate/rostergate/api"
	"github.com/rostergate/rostergate/api/teams"
	"github.com/rostergate/rostergate/db/factory"
	"github.com/rostergate/rostergate/db/redis"
	"github.com/rostergate/rostergate/services/inbound"
	"github.com/rostergate/rostergate/services/sweeper"
	"github.com/rostergate/rostergate/services/telegram"
	"github.com/rostergate/rostergate/util"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"service"},
	Short:   "Run the bot and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, util.Config)
	},
}

func runServer(ctx context.Context, cfg *util.ConfigType) error {
	if cfg.TeamID == "" {
		return errors.New(util.EnvPrefix + "TEAM_ID is required to run the server")
	}

	var bot *telegram.Bot
	username := cfg.Telegram.BotUsername
	if cfg.Telegram.BotToken != "" {
		var err error
		bot, err = telegram.NewBot(cfg.Telegram, cfg.TeamID, cfg.Chats)
		if err != nil {
			return err
		}
		username = bot.Username()
	} else {
		log.Warn("No telegram bot token configured, only the admin API is served")
	}

	a, err := newApp(cfg, username)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	r, err := a.router(cfg, username)
	if err != nil {
		return err
	}

	var deliveries inbound.DeliveryLog = inbound.NewMemoryDeliveryLog(cfg.DedupTTL)
	if cfg.Dialect == util.DbDialectRedis {
		opts := factory.RedisOptions(cfg.Redis)
		client := redis.NewClient(opts)
		defer client.Close() //nolint:errcheck
		deliveries = inbound.NewRedisDeliveryLog(client, redis.Prefix(opts), cfg.DedupTTL)
	}

	pool := inbound.NewPool(r, deliveries, cfg.Workers, cfg.QueueSize)
	go pool.Run(ctx)

	sweep, err := sweeper.New(a.invitations, cfg.SweepSchedule, cfg.StoreTimeout*4)
	if err != nil {
		return err
	}
	sweep.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sweep.Stop(sctx)
	}()

	var webhook http.Handler
	if bot != nil {
		bot.UsePool(pool)
		if cfg.Telegram.Mode == "webhook" {
			if err = bot.RegisterWebhook(); err != nil {
				return err
			}
			webhook = bot.WebhookHandler()
		} else {
			go func() {
				if err := bot.Poll(ctx); err != nil {
					log.WithError(err).Error("telegram polling stopped")
				}
			}()
		}
	}

	srv := &http.Server{
		Addr: cfg.Interface,
		Handler: api.Route(api.Options{
			Teams: &teams.Controller{
				Roster:      a.roster,
				Invitations: a.invitations,
				Issuer:      a.issuer,
			},
			APIToken:      cfg.APIToken,
			Webhook:       webhook,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			AccessLog:     log.StandardLogger().WriterLevel(log.DebugLevel),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Interface).Info("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err = <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
