package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/line/line-bot-sdk-go/v7/linebot"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leafdoctor/internal/auth"
	"github.com/example/leafdoctor/internal/classifier"
	"github.com/example/leafdoctor/internal/config"
	"github.com/example/leafdoctor/internal/handlers"
	"github.com/example/leafdoctor/internal/ledger"
	"github.com/example/leafdoctor/internal/logging"
	"github.com/example/leafdoctor/internal/messaging"
	"github.com/example/leafdoctor/internal/repository"
	"github.com/example/leafdoctor/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	predictor := initPredictor(cfg, logger)
	defer predictor.Close()

	bot, err := linebot.New(cfg.LineChannelSecret, cfg.LineChannelToken)
	if err != nil {
		logger.Fatal("failed to build messaging client", zap.Error(err))
	}
	messenger := messaging.NewLineMessenger(bot)

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	}

	var history usecase.HistoryRepository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		repo := repository.NewDiagnosisRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		history = repo
	}

	var sink ledger.Ledger
	if cfg.SpreadsheetID != "" {
		sheetsLedger, err := ledger.NewSheetsLedger(ctx, cfg.SpreadsheetID, cfg.SheetRange, cfg.CredentialsFile)
		if err != nil {
			// A ledger outage never blocks diagnoses, so a misconfigured
			// credential degrades the same way: run without the ledger.
			logger.Error("ledger disabled", zap.Error(err))
		} else {
			sink = sheetsLedger
		}
	}

	uc := usecase.NewDiagnosisUseCase(predictor, messenger, sink, history, cache, cfg.ConfThreshold, cfg.DeliveryMode, logger)

	r := gin.Default()
	handlers.RegisterRoutes(r, bot, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("leaf doctor listening",
		zap.String("addr", server.Addr),
		zap.String("model_mode", cfg.ModelMode),
		zap.String("delivery_mode", cfg.DeliveryMode),
		zap.Float64("confidence_threshold", cfg.ConfThreshold))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initPredictor(cfg *config.Config, logger *zap.Logger) classifier.Predictor {
	if cfg.ModelMode == config.ModelMock {
		logger.Warn("mock predictor enabled: diagnoses are canned and must never reach real users")
		return classifier.NewMockPredictor(classifier.DefaultLabels, "Tomato_Early_blight")
	}

	predictor, err := classifier.NewONNXPredictor(cfg.ModelPath, cfg.ModelMetadataPath)
	if err != nil {
		logger.Fatal("model load failed", zap.Error(err), zap.String("model_path", cfg.ModelPath))
	}
	logger.Info("model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("labels", len(predictor.Labels())),
		zap.Int("input_size", predictor.InputSize()))
	return predictor
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
