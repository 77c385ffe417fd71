package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/sleepdiary/internal/auth"
	"github.com/hitoshi/sleepdiary/internal/config"
	"github.com/hitoshi/sleepdiary/internal/database"
	"github.com/hitoshi/sleepdiary/internal/diary"
	"github.com/hitoshi/sleepdiary/internal/handler"
	"github.com/hitoshi/sleepdiary/internal/logger"
	"github.com/hitoshi/sleepdiary/internal/metrics"
	"github.com/hitoshi/sleepdiary/internal/middleware"
	"github.com/hitoshi/sleepdiary/internal/repository"
	"github.com/hitoshi/sleepdiary/internal/security"
	"github.com/hitoshi/sleepdiary/internal/worker/cleanup"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再設定する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("kubios_api", cfg.KubiosAPIURI),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newKubiosHTTPClient はKubios呼び出し用のHTTPクライアントを生成する。
// SSRFガードが有効な場合は、設定されたKubiosのURLを起動時に検証する。
// どちらのクライアントもリダイレクトを追従しない。
func newKubiosHTTPClient(cfg *config.Config, guard security.SSRFGuardService) (*http.Client, error) {
	if !cfg.KubiosSSRFGuard {
		slog.Warn("SSRF guard for Kubios calls is disabled")
		return security.NewPlainClient(cfg.KubiosTimeout), nil
	}

	for _, raw := range []string{cfg.KubiosAPIURI, cfg.KubiosLoginURL} {
		if err := guard.ValidateURL(raw); err != nil {
			return nil, fmt.Errorf("invalid Kubios URL %q: %w", redactQuery(raw), err)
		}
	}
	return guard.NewSafeClient(cfg.KubiosTimeout), nil
}

// newRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// 返されるRateLimiterはシャットダウン時に停止する。
func newRouter(cfg *config.Config, db *sqlx.DB, httpClient *http.Client, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter) {
	collector := metrics.NewCollector(reg)

	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	entryRepo := repository.NewPostgresEntryRepo(db)
	draftRepo := repository.NewPostgresDraftRepo(db)

	// ドメインサービス
	kubios := auth.NewKubiosClient(auth.KubiosConfig{
		APIBaseURL:  cfg.KubiosAPIURI,
		LoginURL:    cfg.KubiosLoginURL,
		ClientID:    cfg.KubiosClientID,
		RedirectURI: cfg.KubiosRedirectURI,
		UserAgent:   cfg.KubiosUserAgent,
	}, httpClient, collector)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn)
	authService := auth.NewService(kubios, userRepo, issuer, collector)
	diaryService := diary.NewService(entryRepo, draftRepo, security.NewTextSanitizer(), collector)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitLogin, cfg.RateLimitGeneral),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		RequestTimeout:    cfg.RequestTimeout,
		Logger:            slog.Default(),
		Metrics:           collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		AuthService:  authService,
		DiaryService: diaryService,
		KubiosData:   kubios,
	})

	return router, rateLimiter
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. Kubios用HTTPクライアント
	httpClient, err := newKubiosHTTPClient(cfg, security.NewSSRFGuard())
	if err != nil {
		return err
	}

	// 3. メトリクスレジストリ
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. ルーターの構築
	router, rateLimiter := newRouter(cfg, db, httpClient, reg)
	defer rateLimiter.Stop()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runCleanup は不要な下書きの削除を1回実行する。
// 定期実行はcronなど外部のスケジューラに任せる。
func runCleanup(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(db, slog.Default(), cfg.DraftRetentionDays)
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}

// redactQuery はURLからクエリ文字列を取り除く。
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	u.RawQuery = ""
	return u.String()
}
