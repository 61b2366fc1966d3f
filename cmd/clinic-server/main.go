package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medclinic/clinic/internal/config"
	"github.com/medclinic/clinic/internal/domain/account"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/db"
	"github.com/medclinic/clinic/internal/platform/events"
	"github.com/medclinic/clinic/internal/platform/metrics"
	"github.com/medclinic/clinic/internal/platform/tracing"
	"github.com/medclinic/clinic/internal/server"
)

const serviceName = "clinic-server"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic appointments and records API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.RequestTimeout,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tokenCmd signs a credential with the configured HS256 key. It exists for
// local development and smoke tests against a running server.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a subject and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roleName, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			role, ok := auth.ParseRole(roleName)
			if !ok {
				return fmt.Errorf("unknown role %q", roleName)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.LoginEnabled() {
				return errors.New("AUTH_SIGNING_KEY is required to issue tokens")
			}
			if ttl <= 0 {
				ttl = cfg.AuthTokenTTL
			}

			iss := auth.NewIssuer([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthAudience, ttl)
			tok, exp, err := iss.Issue(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Account id to put in the sub claim")
	cmd.Flags().String("role", "", "One of admin, doctor, secretary, patient")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// hashPasswordCmd reads a password from stdin and prints its bcrypt hash, for
// seeding the account table.
func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := account.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
}

// newVerifier picks HS256 or RS256 verification from the configured key.
func newVerifier(cfg *config.Config) (*auth.Verifier, error) {
	vc := auth.VerifierConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience}
	if cfg.AuthPublicKeyFile != "" {
		key, err := auth.LoadRSAPublicKey(cfg.AuthPublicKeyFile)
		if err != nil {
			return nil, err
		}
		vc.PublicKey = key
	} else {
		vc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.NewVerifier(vc)
}

// newPublisher returns a Kafka publisher when brokers are configured and a
// no-op one otherwise. The returned func releases the producer.
func newPublisher(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, func() {}, nil
	}
	kcfg := events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}
	client, err := events.NewKafkaClient(kcfg)
	if err != nil {
		return nil, nil, err
	}
	closeClient := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Flush(ctx); err != nil {
			logger.Warn().Err(err).Msg("pending events were not flushed")
		}
		client.Close()
	}
	return events.NewKafkaPublisher(client, kcfg, logger, m), closeClient, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg.Env, os.Stdout)

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	m.RegisterPool(pool)

	verifier, err := newVerifier(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure credential verification")
	}

	pub, closePub, err := newPublisher(cfg, logger, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to kafka")
	}
	defer closePub()

	opts := server.Options{
		ServiceName:    serviceName,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Metrics:        m,
		Verifier:       verifier,
		Publisher:      pub,
		Pool:           pool,
	}
	if cfg.LoginEnabled() {
		opts.Issuer = auth.NewIssuer([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthTokenTTL)
	}
	e := server.New(server.PostgresStores(pool), opts)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Bool("login", cfg.LoginEnabled()).
			Bool("tracing", tp.Enabled()).
			Bool("kafka", len(cfg.KafkaBrokers) > 0).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
