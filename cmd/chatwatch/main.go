// chatwatch keeps a live subscription to one chat topic and logs every
// status transition and broadcast message until interrupted.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/goevery/chatwatch/internal/channel"
	"github.com/goevery/chatwatch/internal/subscription"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(err)
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	topic, err := subscription.NewTopic(settings.CommunityID, settings.ConversationID)
	if err != nil {
		logger.Fatal("invalid topic configuration", zap.Error(err))
	}

	provider := channel.NewWebSocketProvider(
		logger,
		channel.WebSocketConfig{
			URL:   settings.ServerURL,
			Token: settings.Token,
		},
		func(message channel.Message) {
			logger.Info("message received",
				zap.String("id", message.Id),
				zap.String("event", message.Event),
				zap.ByteString("payload", message.Payload))
		},
	)

	controller := subscription.NewController(
		logger,
		provider,
		topic,
		subscription.DefaultConfig(),
		func(status string, connecting bool) {
			logger.Info("subscription status changed",
				zap.String("status", status),
				zap.Bool("connecting", connecting))
		},
	)

	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	err = controller.Start(notifyCtx)
	if err != nil {
		logger.Fatal("failed to start subscription", zap.Error(err))
	}

	<-notifyCtx.Done()

	logger.Info("shutting down")
	controller.Stop()
}
