package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mama165/sdk-go/logs"
	"github.com/pliu/lounge/internal/chat"
	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/config"
	"github.com/pliu/lounge/internal/handlers"
	"github.com/pliu/lounge/internal/middleware"
	"github.com/pliu/lounge/internal/store/backend"
	"github.com/pliu/lounge/internal/worker"
	"github.com/pliu/lounge/internal/ws"
)

var envFile = flag.String("env", ".env", "optional dotenv file")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := backend.Open(cfg.StoreDriver, cfg.StoreDSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	c := clock.Real{}
	hub := ws.NewHub(cfg.HubBuffer, log)
	registry := chat.NewRegistry(store, c, hub, log)
	messages := chat.NewMessages(store, c, hub, log)
	sweeper := chat.NewSweeper(registry, c, cfg.SweepInterval, cfg.StaleThreshold, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := worker.NewSupervisor(log).Add(hub, sweeper)
	supervised := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervised)
	}()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(registry, messages, hub, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", cfg.Addr, "store", cfg.StoreDriver)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		sup.Stop()
		<-supervised
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server shutdown failed", "err", err)
	}
	<-supervised
	return nil
}

func newRouter(registry *chat.Registry, messages *chat.Messages, hub *ws.Hub, log *slog.Logger) *mux.Router {
	participantHandler := &handlers.ParticipantHandler{Registry: registry, Log: log}
	messageHandler := &handlers.MessageHandler{Messages: messages, Log: log}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))

	r.HandleFunc("/health", handlers.Health).Methods("GET")
	r.HandleFunc("/participants", participantHandler.Register).Methods("POST")
	r.HandleFunc("/participants", participantHandler.List).Methods("GET")
	r.HandleFunc("/participants/{name}", participantHandler.Get).Methods("GET")

	// Everything below acts on behalf of the caller named in the User header.
	api := r.NewRoute().Subrouter()
	api.Use(middleware.Identity)
	api.HandleFunc("/status", participantHandler.KeepAlive).Methods("POST")
	api.HandleFunc("/messages", messageHandler.Post).Methods("POST")
	api.HandleFunc("/messages", messageHandler.List).Methods("GET")
	api.HandleFunc("/messages/{id}", messageHandler.Get).Methods("GET")
	api.HandleFunc("/messages/{id}", messageHandler.Update).Methods("PUT")
	api.HandleFunc("/messages/{id}", messageHandler.Delete).Methods("DELETE")
	api.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r, middleware.User(r))
	}).Methods("GET")

	return r
}
