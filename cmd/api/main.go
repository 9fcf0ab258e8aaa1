package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	apppipeline "github.com/bryanwahyu/auditflow/internal/application/pipeline"
	appprojects "github.com/bryanwahyu/auditflow/internal/application/projects"
	"github.com/bryanwahyu/auditflow/internal/config"
	domanalysis "github.com/bryanwahyu/auditflow/internal/domain/analysis"
	"github.com/bryanwahyu/auditflow/internal/domain/pipelineerrors"
	domproject "github.com/bryanwahyu/auditflow/internal/domain/project"
	aiopenai "github.com/bryanwahyu/auditflow/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/auditflow/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/auditflow/internal/infra/db/postgres"
	slitherrunner "github.com/bryanwahyu/auditflow/internal/infra/executor/slither"
	"github.com/bryanwahyu/auditflow/internal/infra/httpserver"
	"github.com/bryanwahyu/auditflow/internal/infra/report"
	minioStore "github.com/bryanwahyu/auditflow/internal/infra/storage"
	"github.com/bryanwahyu/auditflow/internal/middleware"
)

func main() {
	// .env is optional; config.yaml values may reference the environment
	_ = godotenv.Load()

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	db, analyses, projects, failures, err := connectDB(ctx, cfg)
	if err != nil {
		log.Fatalf("database connect error: %v", err)
	}
	defer db.Close()

	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	runner := slitherrunner.NewRunner(cfg.Analyzer.SlitherPath)
	enhancer := aiopenai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)

	pipelineSvc := &apppipeline.Service{
		Analyses:      analyses,
		Projects:      projects,
		Failures:      failures,
		Sources:       store,
		Runner:        runner,
		Enhancer:      enhancer,
		Renderer:      report.NewGenerator(),
		Reports:       store,
		Leases:        apppipeline.NewLeaseManager(),
		Clock:         apppipeline.SystemClock{},
		StaticTimeout: cfg.StaticTimeout(),
		AITimeout:     cfg.AITimeout(),
	}
	projectsSvc := &appprojects.Service{
		Repo:     projects,
		Analyses: analyses,
		Clock:    apppipeline.SystemClock{},
	}

	health := middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
		"storage": middleware.CheckFunc(func(ctx context.Context) error {
			return store.Ping(ctx)
		}),
	})

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	if keys := apiKeysFromEnv(); len(keys) > 0 {
		mux.Use(middleware.APIKeyAuth(keys))
	}
	mux.Use(middleware.RateLimitMiddleware(100, 10))
	mux.Mount("/", httpserver.NewRouter(projectsSvc, pipelineSvc, health))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, domanalysis.Repository, domproject.Repository, pipelineerrors.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db,
			postgresp.NewAnalysisRepository(db),
			postgresp.NewProjectRepository(db),
			postgresp.NewFailureRepository(db),
			nil
	case "mysql", "":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db,
			mysqlp.NewAnalysisRepository(db),
			mysqlp.NewProjectRepository(db),
			mysqlp.NewFailureRepository(db),
			nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// apiKeysFromEnv parses API_KEYS, comma-separated "key:editorID[:auditor]"
// entries. Empty means auth is disabled, for local development only.
func apiKeysFromEnv() map[string]middleware.Credential {
	raw := os.Getenv("API_KEYS")
	if raw == "" {
		return nil
	}
	keys := make(map[string]middleware.Credential)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		keys[parts[0]] = middleware.Credential{
			EditorID: parts[1],
			Auditor:  len(parts) > 2 && parts[2] == "auditor",
		}
	}
	return keys
}
