// Package app はアプリケーションの初期化と起動を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/erapp/messenger-gateway/internal/binding"
	"github.com/erapp/messenger-gateway/internal/config"
	"github.com/erapp/messenger-gateway/internal/contacts"
	"github.com/erapp/messenger-gateway/internal/database"
	"github.com/erapp/messenger-gateway/internal/directory"
	"github.com/erapp/messenger-gateway/internal/handler"
	"github.com/erapp/messenger-gateway/internal/logger"
	"github.com/erapp/messenger-gateway/internal/messenger"
	"github.com/erapp/messenger-gateway/internal/metrics"
	"github.com/erapp/messenger-gateway/internal/repository"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "4000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting messenger gateway",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続が確立するまで固定間隔でリトライし、全依存関係をワイヤリングして
// HTTPサーバーを起動する。SIGINTまたはSIGTERMでグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（起動時はDBの立ち上がりを待つ）
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	waitCtx := context.Background()
	if cfg.DBConnectMaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, cfg.DBConnectMaxWait)
		defer cancel()
	}
	if err := database.WaitReady(waitCtx, db, cfg.DBConnectRetryInterval, slog.Default()); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)

	// 3. 外部クライアントの初期化（全ての外部呼び出しにタイムアウトを設定する）
	httpClient := &http.Client{Timeout: cfg.MessengerHTTPTimeout}
	directoryClient := directory.NewClient(cfg.DirectoryAPIURL, cfg.DirectoryAPIToken, httpClient, slog.Default())
	messengerClient := messenger.NewClient(cfg.MessengerAPIURL, httpClient, slog.Default())

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	bindingService := binding.NewService(
		binding.WrapClient(messengerClient),
		accountRepo,
		collector,
		slog.Default(),
		binding.ServiceConfig{
			AdminUsername:    cfg.MessengerAdminUser,
			AdminPassword:    cfg.MessengerAdminSecret,
			DefaultChannelID: cfg.DefaultChannelID,
		},
	)

	syncLimiter := rate.NewLimiter(rate.Limit(cfg.ContactSyncRate), cfg.ContactSyncBurst)
	contactSyncer := contacts.NewSyncer(bindingService, syncLimiter, slog.Default())

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Directory: directoryClient,
		Resolver:  bindingService,
		Syncer:    contactSyncer,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行して終了する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations")

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed")
	return nil
}

// runHealthcheck はローカルの/healthzエンドポイントを1回だけ確認する。
// Dockerのヘルスチェックから呼ばれる想定で、成功時は即座に終了する。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:" + port + "/healthz")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}

	return nil
}
