package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/database"
	"github.com/ekaya-inc/evidence-engine/pkg/embedding"
	"github.com/ekaya-inc/evidence-engine/pkg/extraction"
	"github.com/ekaya-inc/evidence-engine/pkg/handlers"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/mcp"
	mcpauth "github.com/ekaya-inc/evidence-engine/pkg/mcp/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/evidence-engine/pkg/middleware"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
	"github.com/ekaya-inc/evidence-engine/pkg/summarize"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("vector_backend", cfg.VectorStore.Backend),
		zap.Bool("database", cfg.Database.IsConfigured()),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("embedding_provider", cfg.Embedding.IsAvailable()),
		zap.Bool("llm_summaries", cfg.Summarizer.APIKey != ""),
		zap.Bool("ocr", cfg.OCR.PluginPath != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, otherwise process memory.
	var pool *pgxpool.Pool
	evidenceRepo := repositories.NewMemoryEvidenceRepository()
	auditRepo := repositories.NewMemoryAuditRepository()
	if cfg.Database.IsConfigured() {
		db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
		if err != nil {
			logger.Fatal("Failed to connect to database",
				zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
				zap.String("error", logging.SanitizeError(err)))
		}
		defer db.Close()

		if err := database.RunMigrations(db.StdDB(), cfg.Database.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		pool = db.Pool
		evidenceRepo = repositories.NewEvidenceRepository(pool)
		auditRepo = repositories.NewAuditRepository(pool)
	} else {
		logger.Warn("No database configured, catalog and audit trail are kept in memory")
	}

	// Vector index: configured primary behind the memory fallback.
	primary, err := vectorstore.NewPrimaryStore(cfg.VectorStore, pool)
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	gateway := vectorstore.NewGateway(primary, vectorstore.NewMemoryStore(),
		vectorstore.GatewayOptionsFromConfig(cfg.VectorStore, cfg.Embedding.Dimension), logger)

	embedder := newEmbedder(ctx, cfg, logger)

	var ocr extraction.OCREngineFactory
	if f := extraction.NewExtismOCRFactory(cfg.OCR, logger); f != nil {
		ocr = f
	}

	// Officials and sessions
	roster, err := auth.LoadRoster(cfg.Auth.RosterPath)
	if err != nil {
		logger.Fatal("Failed to load officials roster", zap.String("path", cfg.Auth.RosterPath), zap.Error(err))
	}
	secret := sessionSecret(cfg, logger)
	tokens, err := auth.NewTokenIssuer([]byte(secret))
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}
	cookies := auth.NewCookieManager(secret, auth.DeriveCookieSettings(cfg.BaseURL, cfg.CookieDomain))

	securityAuditor := audit.NewSecurityAuditor(logger)
	auditService := services.NewAuditService(auditRepo, securityAuditor, logger)
	authService := services.NewAuthService(services.AuthServiceDeps{
		Roster:    roster,
		AllowList: auth.NewDomainAllowList(cfg.Auth.AllowedDomains),
		Sessions:  auth.NewSessionStore(),
		Tokens:    tokens,
		Cookies:   cookies,
		Passwords: auth.BcryptChecker{},
		Audit:     auditService,
	}, logger)

	ingestionService := services.NewIngestionService(services.IngestionServiceDeps{
		Repo:           evidenceRepo,
		Extractor:      extraction.NewExtractor(ocr, logger),
		Summarizer:     summarize.New(cfg.Summarizer, logger),
		Embedder:       embedder,
		Gateway:        gateway,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		PreviewLength:  cfg.Ingest.PreviewLength,
	}, logger)
	retrievalService := services.NewRetrievalService(services.RetrievalServiceDeps{
		Repo:          evidenceRepo,
		Embedder:      embedder,
		Gateway:       gateway,
		Audit:         auditService,
		Security:      securityAuditor,
		PreviewLength: cfg.Ingest.PreviewLength,
	}, logger)
	catalogService := services.NewCatalogService(evidenceRepo, gateway, auditService, cfg.Ingest.PreviewLength, logger)

	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(authService, logger)

	handlers.NewHealthHandler(cfg, gateway, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(authService, cookies, logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(ingestionService, cfg.Ingest.MaxUploadBytes, logger).RegisterRoutes(mux)
	handlers.NewSearchHandler(retrievalService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewEvidenceHandler(catalogService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAuditHandler(auditService, logger).RegisterRoutes(mux, authMiddleware)

	// MCP agent surface
	mcpServer := mcp.NewServer("evidence-engine", cfg.Version, mcp.NewToolCallLogger(logger).Hooks(), logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, gateway)
	tools.RegisterEvidenceTools(mcpServer.MCP(), &tools.EvidenceToolDeps{
		Retrieval: retrievalService,
		Catalog:   catalogService,
		Logger:    logger,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger))

	handler := middleware.RequestLogger(logger)(middleware.Provenance(models.SourceHTTP)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting evidence-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version),
		zap.Bool("tls", cfg.TLSCertPath != ""))

	if cfg.TLSCertPath != "" {
		err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

// newEmbedder wires the embedding provider and the Redis cache when they are
// configured. Missing pieces leave the hash fallback in charge.
func newEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) embedding.Generator {
	var provider embedding.Provider
	if cfg.Embedding.IsAvailable() {
		p, err := embedding.NewOpenAIProvider(cfg.Embedding)
		if err != nil {
			logger.Fatal("Failed to create embedding provider", zap.Error(err))
		}
		provider = p
	}

	var cache embedding.Cache
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, embedding cache disabled", zap.String("error", logging.SanitizeError(err)))
	} else if client != nil {
		cache = embedding.NewRedisCache(client)
	}

	return embedding.NewGenerator(provider, cache, embedding.OptionsFromConfig(cfg.Embedding), logger)
}

// sessionSecret returns the configured signing secret. Local runs without one
// get a random secret, which ends every session on restart.
func sessionSecret(cfg *config.Config, logger *zap.Logger) string {
	if cfg.Auth.SessionSecret != "" {
		return cfg.Auth.SessionSecret
	}
	if cfg.Env != "local" {
		logger.Fatal("SESSION_SECRET is required outside local environments")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Fatal("Failed to generate session secret", zap.Error(err))
	}
	logger.Warn("SESSION_SECRET not set, using an ephemeral secret")
	return hex.EncodeToString(buf)
}
