package serve

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/config"
	registrybus "github.com/openpaas/chat-service/internal/registry/bus"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/openpaas/chat-service/internal/plugin/bus/localbus"
	_ "github.com/openpaas/chat-service/internal/plugin/bus/natsbus"
	_ "github.com/openpaas/chat-service/internal/plugin/bus/redisbus"
	_ "github.com/openpaas/chat-service/internal/plugin/route/system"
	_ "github.com/openpaas/chat-service/internal/plugin/store/memory"
	_ "github.com/openpaas/chat-service/internal/plugin/store/mongo"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	var apiKeys string
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs, &apiKeys),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			keys, err := parseAPIKeys(apiKeys)
			if err != nil {
				return err
			}
			cfg.APIKeys = keys
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int, apiKeys *string) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port (0 = OS-assigned random port)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_ACCESS_LOG"),
			Destination: &cfg.AccessLog,
			Value:       cfg.AccessLog,
			Usage:       "Enable HTTP access logging",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "MongoDB connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations at startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum size of the MongoDB connection pool",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Minimum size of the MongoDB connection pool",
		},

		// ── Event Bus ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "bus-kind",
			Category:    "Event Bus:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BUS_KIND"),
			Destination: &cfg.BusType,
			Value:       cfg.BusType,
			Usage:       "Event bus backend (" + strings.Join(registrybus.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "nats-url",
			Category:    "Event Bus:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NATS_URL"),
			Destination: &cfg.NATSURL,
			Usage:       "NATS server URL",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Event Bus:",
			Sources:     cli.EnvVars("CHAT_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis server URL",
		},

		// ── Integrations ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "resource-link-url",
			Category:    "Integrations:",
			Sources:     cli.EnvVars("CHAT_SERVICE_RESOURCE_LINK_URL"),
			Destination: &cfg.ResourceLinkURL,
			Usage:       "Base URL of the resource-link service for star lookups (empty disables)",
		},
		&cli.StringFlag{
			Name:        "bootstrap-domains",
			Category:    "Integrations:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BOOTSTRAP_DOMAINS"),
			Destination: &cfg.BootstrapDomains,
			Usage:       "Comma-separated domain ids to bootstrap a default channel for at startup",
		},

		// ── Security ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Security:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing accepts the X-User-ID header",
		},
		&cli.StringFlag{
			Name:        "api-keys",
			Category:    "Security:",
			Sources:     cli.EnvVars("CHAT_SERVICE_API_KEYS"),
			Destination: apiKeys,
			Usage:       "Comma-separated key=memberId pairs accepted as bearer tokens",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHAT_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=chat-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func parseAPIKeys(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	keys := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("invalid api key entry %q: expected key=memberId", pair)
		}
		keys[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}
	return keys, nil
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
