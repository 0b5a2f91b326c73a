package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/config"
	"clinicnotes/internal/database"
	"clinicnotes/internal/handler"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository"
	"clinicnotes/internal/repository/memory"
	"clinicnotes/internal/service"
	"clinicnotes/internal/service/s3"
)

type repositories struct {
	notes     repository.NoteRepository
	versions  repository.VersionRepository
	ledgers   repository.LedgerRepository
	snapshots repository.SnapshotRepository
}

func newRepositories(db *sqlx.DB) repositories {
	if db == nil {
		return repositories{
			notes:     memory.NewNoteRepository(),
			versions:  memory.NewVersionRepository(),
			ledgers:   memory.NewLedgerRepository(),
			snapshots: memory.NewSnapshotRepository(),
		}
	}
	return repositories{
		notes:     repository.NewNoteRepository(db),
		versions:  repository.NewVersionRepository(db),
		ledgers:   repository.NewLedgerRepository(db),
		snapshots: repository.NewSnapshotRepository(db),
	}
}

// newBlobStorage выбирает хранилище содержимого версий
func newBlobStorage(cfg config.StorageConfig, db *sqlx.DB, log zerolog.Logger) (s3.Storage, error) {
	switch cfg.Backend {
	case config.BlobS3:
		s3Config, err := s3.NewConfig(cfg.S3ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load S3 config: %w", err)
		}
		client, err := s3.NewClient(s3Config, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return client, nil
	case config.BlobSQL:
		return repository.NewBlobRepository(db), nil
	default:
		return s3.NewMemoryStorage(), nil
	}
}

func main() {
	// Загружаем конфигурацию
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: appConfig.Log.Level, Pretty: appConfig.Log.Pretty})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Подключаемся к базе, если выбран sql-драйвер
	var db *sqlx.DB
	if appConfig.Database.Driver != config.DriverMemory {
		db, err = database.Open(appConfig.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := database.Migrate(db, log); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	blobs, err := newBlobStorage(appConfig.Storage, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// Инициализация сервисов
	repos := newRepositories(db)
	clk := clock.New()

	versionStore := service.NewVersionStore(repos.versions, blobs, clk, log, m)
	ledger := service.NewSignatureLedger(repos.ledgers, clk, log, m)
	tracker := service.NewAutoSaveTracker(versionStore, ledger, repos.snapshots, clk, appConfig.AutoSave.Debounce, log, m)
	noteService := service.NewNoteService(repos.notes, versionStore, ledger, tracker, clk, log, m)

	// HTTP
	router := handler.NewRouter(handler.NewNoteHandler(noteService, log), m, registry, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: router,
	}

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryInterceptor(m, log)))
	healthServer := handler.RegisterGRPC(grpcServer, handler.NewNoteGRPCHandler(noteService, log))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", appConfig.Server.GRPCPort))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen for gRPC")
		}
		log.Info().Str("port", appConfig.Server.GRPCPort).Msg("starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("failed to serve gRPC")
		}
	}()

	go func() {
		log.Info().Str("port", appConfig.Server.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Info().Msg("shutting down servers")

	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()

	healthServer.Shutdown()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	grpcServer.GracefulStop()

	// Сохраняем отложенные изменения до закрытия базы
	tracker.Close(ctx)

	log.Info().Msg("server exited properly")
}
