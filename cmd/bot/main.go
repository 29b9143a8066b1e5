package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/pulsegate/pulsegate/internal/bot"
	"github.com/pulsegate/pulsegate/internal/bot/session"
	"github.com/pulsegate/pulsegate/internal/bot/verification"
	"github.com/pulsegate/pulsegate/internal/mailer"
	"github.com/pulsegate/pulsegate/internal/redis"
	"github.com/pulsegate/pulsegate/internal/setup"
	"github.com/pulsegate/pulsegate/internal/telegram"
	"github.com/pulsegate/pulsegate/internal/worker/sync"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, BotLogDir)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup()

	sessionClient, err := app.RedisManager.GetClient(redis.SessionDBIndex)
	if err != nil {
		app.Logger.Fatal("Failed to connect to session store", zap.Error(err))
	}

	cfg := app.Config.Common
	client := telegram.NewBotAPI(cfg.Telegram.Token, app.Logger)
	sessions := session.NewRedisStore(sessionClient, app.Logger)
	validator := verification.NewEmailValidator(
		cfg.Verification.WorkDomain, cfg.Verification.ExcludedEmails)
	sender := mailer.New(&cfg.Mail, app.Logger)
	inviter := verification.NewInviter(client, cfg.Telegram.ChannelID, app.Logger)

	directory := bot.NewDirectory(
		app.DB.Model().User(),
		app.DB.Model().Group(),
		client,
		app.Codec,
		app.Logger,
	)

	machine := verification.NewMachine(
		sessions, directory, sender, client,
		inviter, validator, cfg.Telegram.ChannelID, app.Logger,
	)

	b := bot.New(client, machine, app.DB.Model().Group(), app.Config.Bot.PollTimeout, app.Logger)

	me, err := client.GetMe(ctx)
	if err != nil {
		app.Logger.Fatal("Failed to reach the Bot API", zap.Error(err))
	}

	app.Logger.Info("Bot started", zap.String("username", me.Username))

	// The exemption list is enforced once before polling begins so manual
	// registry edits take effect on restart. Failures are not fatal; the
	// scheduled sweep catches up later.
	exclusions := sync.NewExclusions(
		sync.NewDBRegistry(app.DB.Model().User(), app.Codec, app.Logger),
		sync.NewDBGroups(app.DB.Model().Group()),
		app.DB.Model().Sync(),
		client, validator, cfg.Telegram.ChannelID, app.Logger,
	)
	if err := exclusions.Run(ctx); err != nil {
		app.Logger.Error("Startup exclusion sweep failed", zap.Error(err))
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error("Bot stopped", zap.Error(err))
	}
}
