package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/saasbridge/gateway/clients"
	"github.com/saasbridge/gateway/envelope"
	"github.com/saasbridge/gateway/gateway"
	"github.com/saasbridge/gateway/internal/config"
	"github.com/saasbridge/gateway/lock"
	"github.com/saasbridge/gateway/record"
	"github.com/saasbridge/gateway/server"
	"github.com/saasbridge/gateway/sessions"
	"github.com/saasbridge/gateway/token"
	"github.com/saasbridge/gateway/token/refresh"
	"github.com/saasbridge/gateway/upstream"
)

const mcpEndpoint = "/mcp"

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	for {
		if err := run(log); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     c.GetRedisAddr(),
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
	defer redisClient.Close()
	store := record.NewRedisStore(redisClient)

	keys, err := envelope.NewLocalKeyService(c.GetMasterSecret())
	if err != nil {
		return fmt.Errorf("key service: %w", err)
	}
	sealer := envelope.NewService(keys)

	upstreamClient, err := upstream.New(context.Background(), c)
	if err != nil {
		return fmt.Errorf("upstream client: %w", err)
	}

	tokens := token.NewManager(store, sealer, c.GetBearerTokenTTL(), c.GetMaxSessionAge())
	locks := lock.NewManager(store, c.GetLockTTL(), log)
	coordinator := refresh.NewCoordinator(locks, upstreamClient, tokens, c.GetRefreshThreshold(), log,
		refresh.WithLockRetry(c.GetLockRetryAttempts(), c.GetLockRetryDelay()))

	srv, err := server.New(c, server.Deps{
		Store:       store,
		Sealer:      sealer,
		Clients:     clients.NewRegistry(store, c.GetClientRegistrationTTL()),
		Tokens:      tokens,
		Coordinator: coordinator,
		Upstream:    upstreamClient,
	}, log)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	registry := sessions.NewRegistry(log)
	gw := gateway.New(c.GetAppName(), registry, log)
	srv.MountProtected(mcpEndpoint, gw.Handler())

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer, log)
	waitForStopSignal()
	return shutdown(httpServer, gw)
}

func listenAndServe(server *http.Server, log zerolog.Logger) {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server, gw *gateway.Gateway) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway.Shutdown: %w", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
