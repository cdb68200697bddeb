package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/cors"

	"github.com/wolfeidau/attendance/internal/auth"
	"github.com/wolfeidau/attendance/internal/config"
	httpmeta "github.com/wolfeidau/attendance/internal/http"
	"github.com/wolfeidau/attendance/internal/logger"
	"github.com/wolfeidau/attendance/internal/server"
	"github.com/wolfeidau/attendance/internal/session"
	"github.com/wolfeidau/attendance/internal/store"
	postgresstore "github.com/wolfeidau/attendance/internal/store/postgres"
	"github.com/wolfeidau/attendance/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"ATTENDANCE_LISTEN"`
	Cert   string `help:"path to TLS cert file, plain HTTP when unset" default:"" env:"ATTENDANCE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"ATTENDANCE_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"ATTENDANCE_CORS_ORIGINS"`

	// Auth configuration
	AuthSecret string `help:"HMAC secret for verifying identity provider tokens" default:"" env:"ATTENDANCE_AUTH_SECRET"`
	NoAuth     bool   `help:"build principals from request headers instead of tokens (development only)" default:"false" env:"ATTENDANCE_NO_AUTH"`

	// Section configuration
	SectionsConfig string `help:"optional YAML file with per-section overrides" default:"" env:"ATTENDANCE_SECTIONS_CONFIG"`

	// Archive store configuration
	StoreType     string             `help:"archive store type (memory or postgres)" default:"memory" env:"ATTENDANCE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Operational modes
	Telemetry bool `help:"enable OTLP metrics export" default:"false" env:"ATTENDANCE_TELEMETRY"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ATTENDANCE_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, "attendance-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}()
		}
	}

	sections, err := config.Load(c.SectionsConfig)
	if err != nil {
		return err
	}

	// Live session store is always in-process; the archive is selectable.
	sessions := store.NewMemorySessionStore()
	if err := sessions.Start(); err != nil {
		return err
	}
	defer func() {
		if err := sessions.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop session store")
		}
	}()

	var archive store.ArchiveStore
	switch c.StoreType {
	case "postgres":
		pg, err := c.createPostgresArchive(ctx)
		if err != nil {
			return err
		}
		defer pg.Close()
		archive = pg
		log.Info().Msg("Using PostgreSQL archive store")
	default:
		archive = store.NewMemoryArchiveStore()
		log.Info().Msg("Using in-memory archive store")
	}

	expirer := session.NewExpirer(sessions)
	defer expirer.Stop()

	lifecycle := session.NewLifecycle(sessions, expirer)
	scanner := session.NewScanner(sessions, sections.MaxDistanceFor)
	finalizer := session.NewFinalizer(sessions, archive)

	var authMiddleware func(http.Handler) http.Handler
	if c.NoAuth {
		log.Warn().Msg("Authentication is disabled (--no-auth). This should only be used in development!")
		authMiddleware = auth.NoAuthMiddleware()
	} else {
		if len(c.AuthSecret) < 32 {
			return errors.New("auth secret must be at least 32 bytes for HMAC-SHA256 (--auth-secret or ATTENDANCE_AUTH_SECRET)")
		}
		authMiddleware = auth.Middleware(auth.NewVerifier([]byte(c.AuthSecret)))
	}

	api := server.New(sessions, lifecycle, scanner, finalizer)
	router := api.Routes(authMiddleware)

	handler := cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(router)
	handler = httpmeta.ClientIPMiddleware()(handler)
	handler = logger.Requests(log)(handler)

	srv := configureHTTPServer(c.Listen, handler)

	if c.Cert != "" && c.Key != "" {
		log.Info().Str("addr", c.Listen).Bool("auth", !c.NoAuth).Msg("Starting HTTPS server")
		return srv.ListenAndServeTLS(c.Cert, c.Key)
	}
	log.Info().Str("addr", c.Listen).Bool("auth", !c.NoAuth).Msg("Starting HTTP server")
	return srv.ListenAndServe()
}

// createPostgresArchive connects to the archive database, retrying with
// exponential backoff so a restart does not race the database coming up.
// Protocol operations themselves are never retried, this is startup only.
func (c *ServerCmd) createPostgresArchive(ctx context.Context) (*postgresstore.ArchiveStore, error) {
	if err := c.PostgresStore.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	cfg := &postgresstore.ArchiveStoreConfig{
		Pool: &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		},
		AutoMigrate: c.PostgresStore.AutoMigrate,
	}

	return backoff.Retry(ctx, func() (*postgresstore.ArchiveStore, error) {
		return postgresstore.NewArchiveStore(ctx, cfg)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
}
