package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/fanout"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until a signal or a server error, then shuts down
// in dependency order. Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	users, err := repositories.NewUserRepository(db)
	if err != nil {
		return fmt.Errorf("user repository: %w", err)
	}
	defer func() { _ = users.Close() }()
	messages, err := repositories.NewMessageRepository(db, log, config.LimitMessages)
	if err != nil {
		return fmt.Errorf("message repository: %w", err)
	}
	defer func() { _ = messages.Close() }()
	memberships := repositories.NewMembershipRepository(db)

	// 3. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promRegistry)

	// 4. Fan-out bus
	bus, closeBus, err := newBus(ctx, config, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing fan-out bus...")
		closeBus()
	}()

	registry := runtime.NewRegistry(bus, metrics, log)
	presence := runtime.NewPresence(log)
	relay := fanout.NewRelay(bus, registry, metrics, config.CollaboratorTimeout, log)

	// 5. Moderation, only when a word list is configured
	var censor services.Censor
	if config.CensoredWordsFile != "" {
		moderator, err := newModerator(config, log)
		if err != nil {
			return err
		}
		censor = moderator
	}

	service := services.NewChatService(
		auth.NewTokenVerifier(config.JWTSecret, config.JWTIssuer),
		users, memberships, messages, registry, relay, censor, metrics, log,
		config.CollaboratorTimeout,
	)

	// 6. Supervised workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		fanout.NewListener(bus, registry, log),
		workers.NewHeartbeatWorker(log, metrics, registry, presence, config.HeartbeatInterval),
		workers.NewChannelCapacityWorker(log, metrics, []workers.NamedChannel{
			{Name: "bus_deliveries", Channel: bus.Deliveries()},
		}, config.HeartbeatInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	// 7. HTTP server
	server := ws.NewServer(service, registry, presence, promRegistry, metrics, ws.Options{
		AllowedOrigins:    config.AllowedOriginList(),
		BufferSize:        config.ConnectionBufferSize,
		MaxFrameSize:      config.MaxFrameSize,
		MaxContentLength:  config.MaxContentLength,
		WriteTimeout:      config.WriteTimeout,
		PongTimeout:       config.PongTimeout,
		RateLimitBurst:    config.RateLimitBurst,
		RateLimitInterval: config.RateLimitInterval,
	}, log)
	httpServer := ws.CreateServer(config.Address(), server.Handler())

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket server", "address", config.Address(), "redis", config.RedisEnabled(), "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
		log.Error("Server failed, shutting down", "error", serveErr)
	}

	// 9. Final Cleanup
	stop()
	shutdown(httpServer, server, registry, presence, sup, supervisorDone, config.ShutdownTimeout, log)
	log.Info("Program stopped cleanly")
	return serveErr
}

// newBus returns the redis bus when REDIS_ADDR is set, the in-process bus otherwise.
// The returned func releases the bus and the redis client it owns.
func newBus(ctx context.Context, config internal.Config, log *slog.Logger) (contract.IBus, func(), error) {
	if !config.RedisEnabled() {
		log.Info("No REDIS_ADDR configured, fan-out stays in process")
		bus := fanout.NewLocalBus(config.ConnectionBufferSize * 16)
		return bus, func() { _ = bus.Close() }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, config.CollaboratorTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis unreachable at %s: %w", config.RedisAddr, err)
	}
	log.Info("Connected to redis", "address", config.RedisAddr, "prefix", config.RedisChannelPrefix)
	bus := fanout.NewRedisBus(ctx, client, config.RedisChannelPrefix, config.ConnectionBufferSize*16, log)
	return bus, func() {
		if err := bus.Close(); err != nil {
			log.Warn("Error closing redis subscription", "error", err)
		}
		_ = client.Close()
	}, nil
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	words, err := moderation.LoadWords(config.CensoredWordsFile)
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	return moderation.NewModerator(words, char, log)
}

// shutdown stops accepting connections, says goodbye to the live ones, then stops the workers.
// The bus and the database are closed by the deferred calls of run.
func shutdown(
	httpServer *http.Server,
	server *ws.Server,
	registry *runtime.Registry,
	presence *runtime.Presence,
	sup *workers.Supervisor,
	supervisorDone <-chan struct{},
	timeout time.Duration,
	log *slog.Logger,
) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}
	registry.CloseAll(websocket.CloseGoingAway, "server shutdown")
	presence.CloseAll(websocket.CloseGoingAway, "server shutdown")
	if err := server.Wait(ctx); err != nil {
		log.Warn("Sessions still open after shutdown timeout", "error", err)
	}

	sup.Stop()
	select {
	case <-supervisorDone:
	case <-ctx.Done():
		log.Warn("Workers still running after shutdown timeout")
	}
}
