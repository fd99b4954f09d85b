package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/gatehouse-dev/gatehouse/internal/config"
	"github.com/gatehouse-dev/gatehouse/internal/identity"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
	"github.com/gatehouse-dev/gatehouse/internal/mailer"
	"github.com/gatehouse-dev/gatehouse/internal/session"
	"github.com/gatehouse-dev/gatehouse/internal/store"
	memorystore "github.com/gatehouse-dev/gatehouse/internal/store/memory"
	postgresstore "github.com/gatehouse-dev/gatehouse/internal/store/postgres"
	redisstore "github.com/gatehouse-dev/gatehouse/internal/store/redis"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"GATEHOUSE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"GATEHOUSE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"GATEHOUSE_TLS_KEY"`

	// Identity configuration file (cookie names, paths, pages, field names).
	// Reloaded on SIGHUP without a restart.
	Config string `help:"path to YAML configuration file" default:"" env:"GATEHOUSE_CONFIG"`

	// CORS configuration for the cross-domain renewal endpoints
	CORSOrigins []string `help:"allowed CORS origins for the renewal endpoints" default:"" env:"GATEHOUSE_CORS_ORIGINS"`

	// Remember-me token signing
	RememberMeSecret string `help:"secret key for HMAC signing of remember-me tokens" env:"GATEHOUSE_REMEMBER_ME_SECRET"`

	// Token store configuration
	TokenTTL time.Duration `help:"lifetime of emailed one-time tokens" default:"24h" env:"GATEHOUSE_TOKEN_TTL"`

	// Store configuration
	CacheType     string             `help:"session cache type (memory or redis)" default:"memory" env:"GATEHOUSE_CACHE_TYPE" enum:"memory,redis"`
	DirectoryType string             `help:"identity directory type (memory or postgres)" default:"memory" env:"GATEHOUSE_DIRECTORY_TYPE" enum:"memory,postgres"`
	Redis         RedisFlags         `embed:"" prefix:"redis-"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	SMTP          SMTPFlags          `embed:"" prefix:"smtp-"`
}

type RedisFlags struct {
	Addr     string `help:"redis server address" default:"localhost:6379" env:"GATEHOUSE_REDIS_ADDR"`
	Password string `help:"redis server password" default:"" env:"GATEHOUSE_REDIS_PASSWORD"`
	DB       int    `help:"redis database number" default:"0" env:"GATEHOUSE_REDIS_DB"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"GATEHOUSE_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type SMTPFlags struct {
	Addr     string `help:"SMTP relay address (host:port); emails are logged when unset" default:"" env:"GATEHOUSE_SMTP_ADDR"`
	From     string `help:"From address for outbound email" default:"" env:"GATEHOUSE_SMTP_FROM"`
	Username string `help:"SMTP username" default:"" env:"GATEHOUSE_SMTP_USERNAME"`
	Password string `help:"SMTP password" default:"" env:"GATEHOUSE_SMTP_PASSWORD"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting identity server")

	if len(c.RememberMeSecret) < 32 {
		return errors.New("remember-me secret must be at least 32 bytes (--remember-me-secret or GATEHOUSE_REMEMBER_ME_SECRET)")
	}

	// Configuration store, reloaded on SIGHUP
	cfgStore := config.NewStore(config.Default())
	if c.Config != "" {
		if err := cfgStore.LoadFile(c.Config); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Info().Str("path", c.Config).Msg("Loaded configuration file")
		go c.reloadOnSignal(cfgStore, log)
	}
	snap := cfgStore.Snapshot()

	// Session cache
	var cache store.Cache
	switch c.CacheType {
	case "redis":
		redisCache, err := redisstore.New(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
		log.Info().Str("addr", c.Redis.Addr).Msg("Using redis session cache")

	default:
		cache = memorystore.NewCache()
		log.Info().Msg("Using in-memory session cache")
	}

	// Identity directory and token store
	var (
		directory store.Directory
		tokens    store.TokenStore
	)
	switch c.DirectoryType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return err
		}
		pgDirectory, err := postgresstore.NewDirectory(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		}, []byte(c.RememberMeSecret), snap.RememberMeDuration.Std())
		if err != nil {
			return fmt.Errorf("failed to create postgres directory: %w", err)
		}
		defer pgDirectory.Close()

		pgTokens := postgresstore.NewTokenStore(pgDirectory.Pool(), c.TokenTTL)
		go sweepTokens(ctx, pgTokens, log)

		directory = pgDirectory
		tokens = pgTokens
		log.Info().Msg("Using PostgreSQL identity directory")

	default:
		memDirectory, err := memorystore.NewDirectory([]byte(c.RememberMeSecret), snap.RememberMeDuration.Std())
		if err != nil {
			return fmt.Errorf("failed to create memory directory: %w", err)
		}
		directory = memDirectory
		tokens = memorystore.NewTokenStore(c.TokenTTL)
		log.Info().Msg("Using in-memory identity directory")
	}

	// Session store. Cookie settings come from the startup snapshot;
	// changing them requires a restart.
	sessions := session.NewStore(cache, session.Options{
		CookieName:   snap.SessionCookieName,
		CookieDomain: snap.SessionCookieDomain,
		CookieMaxAge: snap.SessionCookieMaxAge.Std(),
		Duration:     snap.SessionDuration.Std(),
		Category:     snap.SessionCategory,
	})

	m := c.buildMailer(log)
	svc := identity.New(cfgStore, directory, tokens, sessions, m)

	mux := http.NewServeMux()
	svc.AddRoutes(mux)

	mux.HandleFunc("GET /debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(svc.Stats())
	})

	// Landing page, open to anonymous visitors once their session resolves
	withSession := sessions.Middleware()
	mux.Handle("/", withSession(svc.Identify(svc.Authenticate(true)(http.HandlerFunc(home)))))

	// The renewal endpoints are called cross-origin from the application
	// domain and need CORS with credentials; everything else is same-origin
	// form posts behind CSRF protection.
	protection := csrf.New()
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isCrossSiteRoute(r.URL.Path, cfgStore.Snapshot()) {
			corsMiddleware.Handler(mux).ServeHTTP(w, r)
			return
		}
		protection.Handler(mux).ServeHTTP(w, r)
	})

	server := configureHTTPServer(c.Listen, logger.Requests(log)(handler))

	if c.Cert != "" || c.Key != "" {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		return server.ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return server.ListenAndServe()
}

// reloadOnSignal re-reads the configuration file on SIGHUP. A bad file keeps
// the previous snapshot current.
func (c *ServeCmd) reloadOnSignal(cfgStore *config.Store, log zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := cfgStore.LoadFile(c.Config); err != nil {
			log.Error().Err(err).Str("path", c.Config).Msg("Failed to reload configuration")
			continue
		}
		log.Info().Str("path", c.Config).Msg("Configuration reloaded")
	}
}

// sweepTokens periodically deletes expired one-time tokens.
func sweepTokens(ctx context.Context, tokens *postgresstore.TokenStore, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := tokens.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to sweep expired tokens")
				continue
			}
			if removed > 0 {
				log.Debug().Int64("removed", removed).Msg("Swept expired tokens")
			}
		}
	}
}

func (c *ServeCmd) buildMailer(log zerolog.Logger) mailer.Mailer {
	if c.SMTP.Addr == "" {
		log.Warn().Msg("No SMTP relay configured, outbound email will only be logged")
		return logMailer{log: log}
	}

	var auth smtp.Auth
	if c.SMTP.Username != "" {
		host := c.SMTP.Addr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		auth = smtp.PlainAuth("", c.SMTP.Username, c.SMTP.Password, host)
	}
	return mailer.NewSMTP(c.SMTP.Addr, c.SMTP.From, auth)
}

// logMailer writes outbound email to the log instead of delivering it.
// Useful in development, where the emailed links land in the server log.
type logMailer struct {
	log zerolog.Logger
}

func (l logMailer) Send(ctx context.Context, msg mailer.Message) error {
	l.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("body", msg.Body).Msg("Outbound email")
	return nil
}

func isCrossSiteRoute(path string, cfg *config.Config) bool {
	switch path {
	case cfg.Paths.RenewSession, cfg.Paths.UpdateIdentity, cfg.Paths.VerifyEmail, cfg.Paths.RevertEmail:
		return true
	}
	return false
}

func home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	ident := identity.IdentificationFromContext(r.Context())
	if ident == nil || ident.IsAnonymous {
		fmt.Fprintln(w, "Welcome, stranger.")
		return
	}
	fmt.Fprintf(w, "Welcome back, %s.\n", ident.Identity)
}
