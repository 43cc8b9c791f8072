package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/chatwatch/internal/auth"
	"github.com/goevery/chatwatch/internal/relay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	websocketServer *relay.WebSocketServer
}

func NewApp(logger *zap.Logger, settings Settings) *App {
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: true,
	}

	var authenticator *auth.Authenticator
	if settings.JWTSecret != "" {
		authenticator = auth.NewAuthenticator(settings.JWTSecret, settings.APIKeys)
	} else {
		logger.Warn("JWT_SECRET not set, relay runs without authentication")
	}

	registry := relay.NewInMemoryRegistry(logger)
	router := relay.NewRouter(logger, authenticator, registry)

	websocketServer := relay.NewWebSocketServer(
		logger,
		websocketUpgrader,
		registry,
		router,
	)

	return &App{
		logger,
		settings,
		websocketServer,
	}
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting relay",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start relay", zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping relay")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("relay shutdown failed", zap.Error(err))
	}

	a.logger.Info("relay stopped")
}

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

	app := NewApp(logger, settings)
	app.run(ctx)
}
