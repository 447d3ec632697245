package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/elasticsearch"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/postgres"
	redisqueue "github.com/custodia-labs/sercha-sync/internal/adapters/driven/queue/redis"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/services"
	"github.com/custodia-labs/sercha-sync/internal/worker"
)

var version = "dev"

func main() {
	// Get run mode from environment (RUN_MODE) or command line arg
	mode := getEnv("RUN_MODE", "all")
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("sercha-sync %s starting in %s mode", version, mode)

	// Configuration from environment
	jwtSecret := getEnv("JWT_SECRET", "development-secret-change-in-production")
	port := getEnvInt("PORT", 8080)
	storeURL := getEnv("STORE_URL", "http://localhost:9200")
	databaseURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	// ===== Initialize index store =====
	log.Println("Connecting to index store...")
	store := elasticsearch.NewStore(elasticsearch.DefaultConfig(storeURL))
	if err := store.HealthCheck(ctx); err != nil {
		log.Printf("Warning: index store health check failed: %v", err)
	} else {
		log.Println("Index store connected")
	}

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if redisURL != "" {
		log.Println("Connecting to Redis...")
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")
	}

	// ===== Task Queue (optional, Redis-backed) =====
	var taskQueue driven.TaskQueue
	if redisClient != nil {
		var err error
		taskQueue, err = redisqueue.NewQueue(redisClient, fmt.Sprintf("worker-%d", os.Getpid()))
		if err != nil {
			log.Fatalf("Failed to create task queue: %v", err)
		}
		log.Println("Using Redis task queue")
	}

	// ===== Index registry =====
	registry := services.NewRegistry()

	// ===== PostgreSQL-backed binding (optional) =====
	if databaseURL != "" {
		log.Println("Connecting to PostgreSQL...")
		dbConfig := postgres.Config{
			URL:             databaseURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(getEnvInt("DB_CONN_MAX_IDLE_SEC", 60)) * time.Second,
		}
		db, err := postgres.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		log.Println("PostgreSQL connected")

		if err := registerTableBinding(registry, db); err != nil {
			log.Fatalf("Failed to register source table: %v", err)
		}
	}

	// ===== Engine =====
	defaults := domain.ImportOptions{
		BatchSize:   getEnvInt("IMPORT_BATCH_SIZE", domain.DefaultBatchSize),
		BulkMaxSize: getEnvInt("BULK_MAX_SIZE", 0),
	}
	if getEnvBool("JOURNAL_ENABLED", false) {
		defaults.Journal = domain.Bool(true)
	}

	engine, err := services.NewEngine(services.EngineConfig{
		Store:        store,
		Registry:     registry,
		Queue:        taskQueue,
		JournalIndex: getEnv("JOURNAL_INDEX", ""),
		Defaults:     defaults,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	switch mode {
	case "server":
		runServer(ctx, port, jwtSecret, engine)

	case "worker":
		runWorkerMode(ctx, taskQueue, engine)

	case "all":
		// Combined mode: run worker in background, server in foreground
		go runWorkerMode(ctx, taskQueue, engine)
		runServer(ctx, port, jwtSecret, engine)

	default:
		log.Fatalf("Unknown mode: %s (use: server, worker, or all)", mode)
	}
}

// registerTableBinding builds one index binding from SOURCE_* environment
// configuration and registers it.
func registerTableBinding(registry *services.Registry, db *postgres.DB) error {
	table := getEnv("SOURCE_TABLE", "")
	if table == "" {
		log.Println("SOURCE_TABLE not set, no binding registered")
		return nil
	}

	idColumn := getEnv("SOURCE_ID_COLUMN", "id")
	deletedColumn := getEnv("SOURCE_DELETED_COLUMN", "")
	indexName := getEnv("SOURCE_INDEX", table)

	source, err := postgres.NewDataSource(db, postgres.SourceConfig{
		Table:         table,
		IDColumn:      idColumn,
		DeletedColumn: deletedColumn,
	})
	if err != nil {
		return err
	}

	var exclude []string
	if deletedColumn != "" {
		exclude = append(exclude, deletedColumn)
	}

	index := &domain.Index{Name: indexName}
	if routing := getEnv("SOURCE_ROUTING_COLUMN", ""); routing != "" {
		index.ParentFor = func(obj any) (string, bool) {
			row, ok := obj.(map[string]any)
			if !ok {
				return "", false
			}
			parent, ok := row[routing].(string)
			return parent, ok && parent != ""
		}
	}

	if err := registry.Register(&services.Binding{
		Index:    index,
		Source:   source,
		Composer: postgres.NewRowComposer(exclude...),
	}); err != nil {
		return err
	}

	log.Printf("Registered index %q over table %q", indexName, table)
	return nil
}

// runServer starts the HTTP server and blocks until shutdown.
func runServer(ctx context.Context, port int, jwtSecret string, engine *services.Engine) {
	cfg := http.Config{
		Host:      "0.0.0.0",
		Port:      port,
		Version:   version,
		JWTSecret: jwtSecret,
	}

	server := http.NewServer(cfg, engine)

	log.Printf("API server starting on :%d", port)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runWorkerMode starts the task worker and, when configured, the periodic
// journal replay schedule.
func runWorkerMode(ctx context.Context, taskQueue driven.TaskQueue, engine *services.Engine) {
	if taskQueue == nil {
		log.Println("No task queue configured, worker mode idle")
		<-ctx.Done()
		return
	}

	log.Println("Starting worker mode...")

	w := worker.NewWorker(worker.WorkerConfig{
		TaskQueue:      taskQueue,
		Engine:         engine,
		Logger:         slog.Default(),
		Concurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		DequeueTimeout: getEnvInt("WORKER_DEQUEUE_TIMEOUT", 5),
	})

	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	log.Println("Worker started, processing tasks...")
	log.Println("Worker handles:")
	log.Println("  - flush: re-import buffered document ids")
	log.Println("  - apply_journal: replay the journal from a checkpoint")

	// Schedule journal replay when an interval is configured. Each tick
	// replays from two intervals back so overlapping windows cover clock
	// skew between writers.
	if interval := getEnvInt("JOURNAL_APPLY_INTERVAL_SEC", 0); interval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(interval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					since := time.Now().Add(-2 * time.Duration(interval) * time.Second)
					task := domain.NewApplyJournalTask(since)
					if err := taskQueue.Enqueue(ctx, task); err != nil {
						log.Printf("Failed to enqueue journal replay: %v", err)
					}
				}
			}
		}()
		log.Printf("Journal replay scheduled every %ds", interval)
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	log.Println("Stopping worker...")
	w.Stop()
	log.Println("Worker stopped")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
