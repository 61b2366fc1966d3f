// Package server assembles the clinic HTTP API from its stores and platform
// services.
package server

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medclinic/clinic/internal/domain/account"
	"github.com/medclinic/clinic/internal/domain/clinical"
	"github.com/medclinic/clinic/internal/domain/identity"
	"github.com/medclinic/clinic/internal/domain/scheduling"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/internal/platform/db"
	"github.com/medclinic/clinic/internal/platform/events"
	"github.com/medclinic/clinic/internal/platform/metrics"
	"github.com/medclinic/clinic/internal/platform/middleware"
)

const defaultBodyLimit = "1M"

// Stores groups the persistence the API runs on.
type Stores struct {
	People        identity.Repository
	Accounts      account.Repository
	Appointments  scheduling.Repository
	Consultations clinical.ConsultationRepository
	Prescriptions clinical.PrescriptionRepository
	Tx            db.TxRunner
}

// PostgresStores returns Stores backed by pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		People:        identity.NewRepo(pool),
		Accounts:      account.NewRepo(pool),
		Appointments:  scheduling.NewRepo(pool),
		Consultations: clinical.NewConsultationRepo(pool),
		Prescriptions: clinical.NewPrescriptionRepo(pool),
		Tx:            db.NewTxRunner(pool),
	}
}

type Options struct {
	ServiceName    string
	CORSOrigins    []string
	BodyLimit      string
	RequestTimeout time.Duration

	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Verifier  auth.CredentialVerifier
	Policy    *auth.Enforcer
	Publisher events.Publisher
	// Issuer signs login tokens. Nil disables POST /api/auth/login.
	Issuer account.TokenIssuer
	Audit  middleware.AuditRecorder
	// Pool, when set, backs /health/db.
	Pool *pgxpool.Pool
}

// New builds the echo application. Middleware runs in the order registered:
// request id and panic recovery first, authentication last, so every
// rejection is still logged, traced, counted and audited.
func New(stores Stores, opts Options) *echo.Echo {
	if opts.ServiceName == "" {
		opts.ServiceName = "clinic"
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = defaultBodyLimit
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Policy == nil {
		opts.Policy = auth.NewDefaultEnforcer()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	logger := opts.Logger
	m := opts.Metrics

	opts.Policy.SetObserver(func(e auth.Entity, a auth.Action, r auth.Role, allowed bool) {
		m.ObservePolicyDecision(string(e), string(a), string(r), allowed)
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Tracing(opts.ServiceName))
	e.Use(middleware.Metrics(m))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(opts.BodyLimit))
	e.Use(middleware.RequestTimeout(opts.RequestTimeout))
	e.Use(middleware.Audit(logger, opts.Audit))
	e.Use(auth.Authenticate(opts.Verifier, auth.AuthSkipper))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Pool != nil {
		e.GET("/health/db", db.HealthHandler(opts.Pool))
	}
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	people := identity.NewService(stores.People)

	var login *account.Service
	if opts.Issuer != nil {
		login = account.NewService(stores.Accounts, opts.Issuer, logger)
	}

	appointments := scheduling.NewService(stores.Appointments, people, opts.Policy, opts.Publisher, m)
	records := clinical.NewService(
		stores.Consultations,
		stores.Prescriptions,
		stores.Appointments,
		stores.Tx,
		opts.Policy,
		opts.Publisher,
		m,
	)

	api := e.Group("/api")
	account.NewHandler(login, people).RegisterRoutes(api)
	scheduling.NewHandler(appointments, opts.Policy, people).RegisterRoutes(api)
	clinical.NewHandler(records, opts.Policy, people).RegisterRoutes(api)

	return e
}
