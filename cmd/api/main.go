package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/config"
	"github.com/uma-arai/sbcntr-office-reservation/internal/common/database"
	"github.com/uma-arai/sbcntr-office-reservation/internal/handler"
	"github.com/uma-arai/sbcntr-office-reservation/internal/lock"
	"github.com/uma-arai/sbcntr-office-reservation/internal/repository"
	"github.com/uma-arai/sbcntr-office-reservation/internal/service/booking"
	"github.com/uma-arai/sbcntr-office-reservation/internal/service/notify"
)

const (
	projectName     = "sbcntr-office-reservation-api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// X-Ray設定
	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
			ServiceVersion: "1.0.0",
		}); err != nil {
			log.Printf("Failed to configure X-Ray: %v", err)
			if configErr := xray.Configure(xray.Config{}); configErr != nil {
				log.Fatalf("Failed to configure default X-Ray settings: %v", configErr)
			}
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	defer db.Close()
	repoDB := repository.NewDBFromSQLX(db.DB)

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create booking lock: %v", err)
	}
	defer closeLocker()

	sinks, closeSinks, err := newSinks(ctx, cfg, repoDB)
	if err != nil {
		log.Fatalf("Failed to create notification sinks: %v", err)
	}
	defer closeSinks()
	dispatcher := notify.NewDispatcher(cfg.Notification.BufferSize, sinks...)

	service := booking.NewService(
		repository.NewOfficeRepository(repoDB),
		repository.NewReservationRepository(repoDB),
		locker,
		dispatcher,
		booking.RealClock{},
		booking.Config{
			LockWait: cfg.Booking.LockWait,
			LockHold: cfg.Booking.LockHold,
			Location: cfg.Booking.Location,
		},
	)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, handler.NewReservationHandler(service))

	var h http.Handler = router
	if cfg.EnableTracing {
		h = xray.Handler(xray.NewFixedSegmentNamer(projectName), router)
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down server")
	case err := <-errChan:
		log.Printf("Server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
	}
	// 受け付け済みの通知を配信してから終了する
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("Failed to drain notifications: %v", err)
	}
}

// newLocker は設定に応じた予約ロックを作成します
func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.Booking.LockBackend == config.LockBackendMemory {
		log.Println("Using in-memory booking lock")
		return lock.NewMemoryLocker(), func() {}, nil
	}

	client, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedisLocker(client), func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close redis client: %v", err)
		}
	}, nil
}

// newSinks は設定された通知の配信先を作成します
func newSinks(ctx context.Context, cfg *config.Config, db *repository.DB) ([]notify.Sink, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.HasSink(config.SinkDB) {
		sinks = append(sinks, notify.NewRecordSink(repository.NewNotificationRepository(db)))
	}
	if cfg.HasSink(config.SinkSFN) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, notify.NewSFNSink(sfn.NewFromConfig(awsCfg), cfg.SFN.NotificationStateMachineArn))
	}
	if cfg.HasSink(config.SinkAMQP) {
		sink, err := notify.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				log.Printf("Failed to close amqp connection: %v", err)
			}
		})
	}

	return sinks, closeAll, nil
}
