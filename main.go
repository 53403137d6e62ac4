package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"peerchat/blob"
	"peerchat/config"
	"peerchat/feedws"
	"peerchat/presence"
	"peerchat/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while loading config")
	}

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while resolving data dir")
	}

	fmt.Printf("User ID:         %s\n", cfg.UserID)
	fmt.Printf("Username:        %s\n", cfg.Username)
	fmt.Printf("Feed Address:    %s\n", cfg.FeedListenAddr)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	st, dbPath, err := store.Open(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed while opening database")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	if _, err := blob.Open(config.UploadsDir(dataDir), cfg.BlobBaseURL); err != nil {
		log.Fatal().Err(err).Msg("startup failed while preparing blob bucket")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.UpsertUser(ctx, store.UserRow{ID: cfg.UserID, Username: cfg.Username}); err != nil {
		log.Fatal().Err(err).Msg("startup failed while registering local user")
	}

	tracker := presence.NewTracker(st, cfg.UserID, cfg.HeartbeatInterval(), log)
	tracker.Start(ctx)
	defer tracker.Stop()

	mux := http.NewServeMux()
	mux.Handle("/feed", feedws.NewServer(st.Feed(), log))
	mux.Handle("/blobs/", http.StripPrefix("/blobs/",
		http.FileServer(http.Dir(config.UploadsDir(dataDir)))))

	server := &http.Server{Addr: cfg.FeedListenAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.FeedListenAddr).Msg("feed server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("feed server exit")
		}
	}()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("feed server shutdown error")
	}
}
