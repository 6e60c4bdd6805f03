package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/docutag/interlinker"
	"github.com/docutag/interlinker/api"
	"github.com/docutag/interlinker/db"
	"github.com/docutag/interlinker/logger"
	"github.com/docutag/interlinker/metrics"
	"github.com/docutag/interlinker/storage"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	log, err := logger.New(getEnv("LOG_MODE", "production"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("interlinker service initializing", "version", "1.0.0")

	// Command-line flags (override environment variables)
	port := flag.String("port", getEnv("PORT", "8080"), "Server port")
	configPath := flag.String("config", getEnv("INTERLINKER_CONFIG", ""), "YAML configuration file")
	storagePath := flag.String("storage-path", getEnv("STORAGE_BASE_PATH", "./storage"), "Base directory for rendered views")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	migrationStatus := flag.Bool("migrate-status", false, "Print database migration status and exit")
	rollbackSteps := flag.Int("rollback", 0, "Revert the given number of database migrations and exit")
	flag.Parse()

	if *migrationStatus || *rollbackSteps > 0 {
		if err := runMigrationCommand(*migrationStatus, *rollbackSteps, log); err != nil {
			log.Error("migration command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*configPath, log)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	linker, err := interlinker.New(cfg,
		interlinker.WithLogger(log),
		interlinker.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		log.Error("failed to create linker", "error", err)
		os.Exit(1)
	}

	opts := []api.Option{
		api.WithGatherer(reg),
		api.WithLogger(log),
	}

	// PostgreSQL is optional; without it runs are not persisted
	if dsn := databaseDSN(); dsn != "" {
		database, err := db.New(db.Config{DSN: dsn})
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		reg.MustRegister(collectors.NewDBStatsCollector(database.DB(), "interlinker"))
		opts = append(opts, api.WithRunStore(database))
		log.Info("using PostgreSQL database", "host", getEnv("DB_HOST", ""), "database", getEnv("DB_NAME", "interlinker"))
	} else {
		log.Warn("DB_HOST not set, run persistence disabled")
	}

	views, err := viewStore(*storagePath)
	if err != nil {
		log.Error("failed to initialize view storage", "error", err)
		os.Exit(1)
	}
	opts = append(opts, api.WithViewStore(views))

	serverConfig := api.DefaultConfig()
	serverConfig.Addr = ":" + *port
	serverConfig.CORSEnabled = !*disableCORS
	server := api.NewServer(serverConfig, linker, opts...)

	// Start server in a goroutine
	go func() {
		log.Info("interlinker service starting",
			"port", *port,
			"llm_provider", cfg.LLM.Provider,
			"chat_model", cfg.LLM.ChatModel,
			"embedding_model", cfg.LLM.EmbeddingModel,
			"similarity_threshold", cfg.SimilarityThreshold,
			"max_candidates", cfg.MaxCandidates,
			"redis_cache", cfg.RedisURL != "",
		)

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// loadConfig reads the YAML file when given, then applies environment overrides
func loadConfig(path string, log *logger.Logger) (interlinker.Config, error) {
	cfg := interlinker.DefaultConfig()
	if path != "" {
		loaded, err := interlinker.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
		log.Info("loaded configuration file", "path", path)
	}

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.ChatModel = getEnv("LLM_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	if raw := os.Getenv("SIMILARITY_THRESHOLD"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Warn("invalid SIMILARITY_THRESHOLD value, using default",
				"provided", raw,
				"default", cfg.SimilarityThreshold,
				"error", err,
			)
		} else {
			cfg.SimilarityThreshold = threshold
		}
	}

	if raw := os.Getenv("MAX_CANDIDATES"); raw != "" {
		maxCandidates, err := strconv.Atoi(raw)
		if err != nil || maxCandidates < 0 {
			log.Warn("invalid MAX_CANDIDATES value, using default", "provided", raw, "default", cfg.MaxCandidates)
		} else {
			cfg.MaxCandidates = maxCandidates
		}
	}

	return cfg, cfg.Validate()
}

// runMigrationCommand reports or reverts schema migrations without starting the server
func runMigrationCommand(status bool, rollbackSteps int, log *logger.Logger) error {
	dsn := databaseDSN()
	if dsn == "" {
		return errors.New("DB_HOST environment variable is required")
	}
	database, err := db.Open(db.Config{DSN: dsn})
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if rollbackSteps > 0 {
		reverted, err := db.Rollback(ctx, database.DB(), rollbackSteps)
		if err != nil {
			return err
		}
		for _, m := range reverted {
			log.Info("reverted migration", "version", m.Version, "name", m.Name)
		}
	}

	if status {
		migrations, err := db.GetMigrationStatus(ctx, database.DB())
		if err != nil {
			return err
		}
		for _, m := range migrations {
			log.Info("migration", "version", m.Version, "name", m.Name, "applied", m.Applied, "applied_at", m.AppliedAt)
		}
	}
	return nil
}

// databaseDSN builds a PostgreSQL DSN from DB_* variables, or returns "" when DB_HOST is unset
func databaseDSN() string {
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbHost,
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "interlinker"),
		getEnv("DB_PASSWORD", "interlinker_dev_pass"),
		getEnv("DB_NAME", "interlinker"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

// viewStore picks S3 when S3_BUCKET is set and the filesystem otherwise
func viewStore(basePath string) (storage.ViewStore, error) {
	bucket := getEnv("S3_BUCKET", "")
	if bucket == "" {
		return storage.New(storage.Config{BasePath: basePath})
	}
	usePathStyle, _ := strconv.ParseBool(getEnv("S3_USE_PATH_STYLE", "false"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return storage.NewS3Storage(ctx, storage.S3Config{
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Bucket:          bucket,
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    usePathStyle,
	})
}
