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

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tsubuyaki/internal/bot"
	"tsubuyaki/internal/config"
	"tsubuyaki/internal/database"
	"tsubuyaki/internal/handler"
	"tsubuyaki/internal/repository"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Info().Msgf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み
	cfg := config.Load()
	setupLogger(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("❌ server stopped")
	}
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
}

// openRepository opens the message storage selected by DB_DRIVER
func openRepository(cfg config.Config) (repository.Messages, error) {
	if cfg.DBDriver == "pebble" {
		return repository.OpenPebble(cfg.DBPath, nil)
	}
	db, err := database.Init(cfg)
	if err != nil {
		return nil, err
	}
	return repository.NewSQL(db), nil
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// データベース接続を初期化
	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer repo.Close()

	// ハンドラー初期化
	h := handler.New(repo, cfg)

	bots := bot.Defaults()
	if talk := bot.NewTalkBot(cfg.TalkAPIKey, cfg.TalkAPIURL); talk != nil {
		bots = append(bots, talk)
	}
	if keyword := bot.NewKeywordBot(cfg.KeywordAPIAppID, cfg.KeywordAPIURL); keyword != nil {
		bots = append(bots, keyword)
	}
	dispatcher := bot.NewDispatcher(h, bots...)

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(h.SetupRouter()),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	printBanner(cfg, dispatcher.Bots())

	// WebSocket ブロードキャスターを開始
	go h.HandleBroadcast()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx, h.Stream)
	})
	g.Go(func() error {
		log.Info().Msg("🚀 Server started successfully")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown error")
		}
		return nil
	})

	err = g.Wait()
	// Shutdown がタイムアウトしてもハンドラ側の publish は閉じた後は捨てる
	h.CloseBroadcast()
	log.Info().Msg("shutdown complete")
	return err
}

func printBanner(cfg config.Config, bots []*bot.Bot) {
	fmt.Println("========================================")
	fmt.Println("  tsubuyaki API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	switch cfg.DBDriver {
	case "mysql":
		fmt.Printf("  Database: mysql %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	default:
		fmt.Printf("  Database: %s %s\n", cfg.DBDriver, cfg.DBPath)
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	for _, b := range bots {
		fmt.Printf("  Bot: %s\n", b.Name)
	}
	fmt.Println("========================================")
}
