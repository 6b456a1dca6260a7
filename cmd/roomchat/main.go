package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/chilledoj/roomchat"
	"github.com/chilledoj/roomchat/auth"
	"github.com/chilledoj/roomchat/config"
	"github.com/chilledoj/roomchat/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	sl := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(sl)

	if err := run(cfg, sl); err != nil {
		sl.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, sl *slog.Logger) error {
	ctx := context.Background()

	var (
		st      Store
		closeDB = func() {}
	)
	if cfg.Database.URL != "" {
		pg, pool, err := store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		st, closeDB = pg, pool.Close
		sl.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		sl.Info("using memory store")
	}

	coordinator := roomchat.NewCoordinator(ctx, st, roomchat.Options{
		Rooms:            cfg.Chat.Rooms,
		DefaultRoom:      cfg.Chat.DefaultRoom,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		ReactionAttempts: cfg.Chat.ReactionMaxAttempts,
		Session: roomchat.SessionOptions{
			SendBuffer:   cfg.Websocket.SendBuffer,
			PingInterval: cfg.Websocket.PingInterval,
		},
		Slogger: sl,
	})

	srv := &server{
		coordinator: coordinator,
		store:       st,
		resolver:    auth.NewJWTResolver(cfg.Auth.JWTSecret),
		slogger:     sl.With("component", "http"),
	}
	if cfg.Auth.DevLogin {
		srv.issuer = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		sl.Warn("dev login enabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(),
	}
	go func() {
		sl.Info("listening", "addr", cfg.Server.Addr, "rooms", cfg.Chat.Rooms)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sl.Error("listen", "err", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		ctx,
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				sl.Info("shutting down http")
				return httpServer.Shutdown(ctx)
			},
			"chat": func(ctx context.Context) error {
				sl.Info("closing connections")
				coordinator.Stop()
				closeDB()
				return nil
			},
		},
	)

	exitCode := <-wait
	sl.Info("shutdown complete", "code", exitCode)
	if exitCode != 0 {
		return fmt.Errorf("shutdown exited with code %d", exitCode)
	}
	return nil
}
