// Package serve implements the serve sub-command: it wires the Store,
// Embedding Client, Vector Index (via Memory Core's cache), Embedding
// Worker, Auth Broker, and RPC Surface together and runs either the HTTP
// transport or the stdio transport, per spec.md §4.8. Flag/env wiring
// follows the teacher's internal/cmd/serve/serve.go Sources/Destination
// idiom.
package serve

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillmind/memoryd/internal/auth"
	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/embedworker"
	"github.com/quillmind/memoryd/internal/memorycore"
	"github.com/quillmind/memoryd/internal/metrics"
	"github.com/quillmind/memoryd/internal/migration"
	"github.com/quillmind/memoryd/internal/rpc"
	"github.com/quillmind/memoryd/internal/store/gormstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var stdio bool
	var logLevel string

	return &cli.Command{
		Name:  "serve",
		Usage: "Start memoryd's RPC surface (stdio or HTTP)",
		Flags: flags(&cfg, &stdio, &logLevel),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if lvl, err := log.ParseLevel(logLevel); err == nil {
				log.SetLevel(lvl)
			}
			ctx = config.WithContext(ctx, &cfg)
			if stdio {
				return runStdio(ctx, cfg)
			}
			return runHTTP(ctx, cfg)
		},
	}
}

func flags(cfg *config.Config, stdio *bool, logLevel *string) []cli.Flag {
	return []cli.Flag{
		// ── Server ────────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "stdio",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_STDIO"),
			Destination: stdio,
			Usage:       "Serve over stdio (line-delimited JSON-RPC) instead of HTTP",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP listen port",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Port for /metrics (0 disables the management listener)",
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Server:",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: logLevel,
			Value:       "info",
			Usage:       "debug|info|warn|error",
		},
		&cli.BoolFlag{
			Name:        "stdio-multi-tenant",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_STDIO_MULTI_TENANT"),
			Destination: &cfg.StdioMultiTenant,
			Value:       cfg.StdioMultiTenant,
			Usage:       "Require a bearer token per stdio request instead of one fixed legacy user",
		},
		&cli.StringFlag{
			Name:        "stdio-legacy-user-id",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_STDIO_LEGACY_USER_ID"),
			Destination: &cfg.StdioLegacyUserID,
			Usage:       "Fixed user id for legacy (non-multi-tenant) stdio mode",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_KIND"),
			Destination: &cfg.DBKind,
			Value:       cfg.DBKind,
			Usage:       "postgres|sqlite",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_URL"),
			Destination: &cfg.DBURL,
			Required:    true,
			Usage:       "Database connection URL",
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_MIGRATE_AT_START"),
			Destination: &cfg.MigrateAtStart,
			Value:       cfg.MigrateAtStart,
			Usage:       "Run pending schema migrations before serving",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embed-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_EMBED_KIND"),
			Destination: &cfg.EmbedKind,
			Value:       cfg.EmbedKind,
			Usage:       "openai|disabled",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "Embedding provider API key",
		},

		// ── Identity provider / OAuth ─────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Auth:",
			Sources:     cli.EnvVars("MEMORYD_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "Identity-provider OIDC issuer URL",
		},
	}
}

type built struct {
	store  *gormstore.Store
	core   *memorycore.Core
	worker *embedworker.Worker
	broker *auth.Broker
	oauth  *auth.OAuthServer
}

// monitorAllUsers drives the embedding worker's per-user missing-embedding
// scan across every known tenant. The worker itself stays strictly
// per-user (store.FindMemoriesMissingEmbedding requires a user id); this
// loop is what makes the periodic scan spec.md §5 describes actually cover
// the whole install instead of a single caller.
func monitorAllUsers(ctx context.Context, st *gormstore.Store, worker *embedworker.Worker, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := st.ListUserIDs(ctx)
			if err != nil {
				log.Error("serve: list user ids failed", "err", err)
				continue
			}
			for _, userID := range ids {
				worker.UpdateAllMissingEmbeddings(ctx, userID)
			}
			metrics.SetEmbedQueueDepth(worker.QueueDepth())
		}
	}
}

func wire(ctx context.Context, cfg config.Config) (*built, error) {
	st, err := gormstore.Open(gormstore.Dialect(cfg.DBKind), cfg.DBURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.MigrateAtStart {
		engine := migration.New(st.DB(), cfg.DBKind)
		if err := engine.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure migration table: %w", err)
		}
		if err := engine.Up(ctx, 0); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var embedder embed.Embedder
	switch cfg.EmbedKind {
	case "openai":
		embedder = embed.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIModelName, cfg.OpenAIBaseURL, cfg.OpenAIDimensions)
	default:
		embedder = &embed.Disabled{}
	}

	workerCfg := embedworker.Config{
		BatchSize:       cfg.EmbedWorkerBatchSize,
		MaxRetries:      cfg.EmbedWorkerMaxRetries,
		RetryBaseDelay:  cfg.EmbedWorkerRetryBaseDur,
		ScanInterval:    cfg.EmbedWorkerScanInterval,
		InterBatchPause: 500 * time.Millisecond,
	}
	worker := embedworker.New(st, embedder, workerCfg)

	core := memorycore.New(st, embedder, worker, cfg)

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	broker, err := auth.NewBroker(st, verifier, cfg.SessionCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("auth broker: %w", err)
	}
	oauthSrv := auth.NewOAuthServer(st, cfg.OAuthCodeTTL, cfg.OAuthTokenTTL)
	oauthSrv.CurrentUserID = func(c *gin.Context) (string, string, bool) {
		identity, err := broker.Authenticate(c.Request.Context(), strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if err != nil {
			return "", "", false
		}
		return identity.UserID, identity.Email, true
	}

	return &built{store: st, core: core, worker: worker, broker: broker, oauth: oauthSrv}, nil
}

func runHTTP(ctx context.Context, cfg config.Config) error {
	b, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	metrics.Init()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go monitorAllUsers(scanCtx, b.store, b.worker, cfg.EmbedWorkerScanInterval)

	dispatcher := rpc.NewDispatcher(b.core, b.broker, cfg.DefaultEmbedModeHTTP)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	rpc.MountRoutes(router, dispatcher, b.oauth)

	if cfg.ManagementListener.Port > 0 {
		go runManagementServer(cfg.ManagementListener.Port)
	}

	addr := fmt.Sprintf(":%d", cfg.Listener.Port)
	log.Info("memoryd listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(addr) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// runManagementServer serves /metrics on its own listener, unauthenticated,
// per spec.md §6 and the teacher's management-port split in
// internal/cmd/serve/serve.go.
func runManagementServer(port int) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	addr := fmt.Sprintf(":%d", port)
	log.Info("memoryd management listener", "addr", addr)
	if err := r.Run(addr); err != nil {
		log.Error("management listener stopped", "err", err)
	}
}

func runStdio(ctx context.Context, cfg config.Config) error {
	rpc.SetStderrLogging()

	b, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	metrics.Init()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go monitorAllUsers(scanCtx, b.store, b.worker, cfg.EmbedWorkerScanInterval)

	var authenticator rpc.Authenticator = b.broker
	if !cfg.StdioMultiTenant {
		authenticator = auth.NewStaticAuthenticator(cfg.StdioLegacyUserID)
	}
	dispatcher := rpc.NewDispatcher(b.core, authenticator, cfg.DefaultEmbedModeStdio)

	return rpc.ServeStdio(ctx, dispatcher, "", os.Stdin, os.Stdout)
}
