package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientsheet/internal/config"
	"github.com/ehr/patientsheet/internal/domain/patient"
	"github.com/ehr/patientsheet/internal/platform/db"
	"github.com/ehr/patientsheet/internal/platform/middleware"
	"github.com/ehr/patientsheet/internal/platform/rowstore"
	"github.com/ehr/patientsheet/internal/platform/sandbox"
	"github.com/ehr/patientsheet/internal/platform/telemetry"
	"github.com/ehr/patientsheet/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patientsheet",
		Short: "Patient records and visit history kept in a spreadsheet-style row store",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(patientsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the backing row store",
	}

	// store init
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the patient and visit tables when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			l := a.svc.Layout()
			fmt.Printf("Tables ready: %s, %s (%s backend)\n", l.Patients.Name, l.Visits.Name, a.cfg.StoreBackend)
			return nil
		},
	})

	// store header
	cmd.AddCommand(&cobra.Command{
		Use:   "header <table> <column>...",
		Short: "Replace the header row of a table",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.UpdateHeader(ctx, args[0], args[1:]); err != nil {
				return fmt.Errorf("update header: %w", err)
			}
			fmt.Printf("Header of %s set to %d column(s).\n", args[0], len(args)-1)
			return nil
		},
	})

	// store seed
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic patients and visits for demos",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := sandbox.DefaultSeedConfig()
			sc.PatientCount, _ = cmd.Flags().GetInt("patients")
			sc.VisitsPerPatient, _ = cmd.Flags().GetInt("visits")
			sc.Seed, _ = cmd.Flags().GetInt64("seed")

			ctx := context.Background()
			a, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := sandbox.NewSeeder(sc, time.Now()).Run(ctx, serviceSink{a.svc})
			if err != nil {
				return fmt.Errorf("seed failed after %d patient(s): %w", res.Patients, err)
			}
			fmt.Printf("Seeded %d patient(s) and %d visit(s) in %s.\n", res.Patients, res.Visits, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	seedCmd.Flags().Int("patients", 20, "Number of patients to create")
	seedCmd.Flags().Int("visits", 3, "Visits per patient")
	seedCmd.Flags().Int64("seed", 1, "Random seed")
	cmd.AddCommand(seedCmd)

	return cmd
}

// serviceSink writes seeded rows through the patient service so they get
// ids and normalized values like any other entry.
type serviceSink struct {
	svc *patient.Service
}

func (s serviceSink) AddPatient(ctx context.Context, inputs map[string]string) (string, error) {
	p, err := s.svc.AddPatient(ctx, nil, inputs)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s serviceSink) AddVisit(ctx context.Context, patientID string, inputs map[string]string) error {
	_, err := s.svc.AddVisit(ctx, patientID, nil, inputs)
	return err
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Inspect patient records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients in name order",
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")

			ctx := context.Background()
			a, err := openCLI(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			patients, err := a.svc.ListPatients(ctx, search)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, p := range patients {
				fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().String("search", "", "Case-insensitive term matched against every column")
	cmd.AddCommand(listCmd)

	return cmd
}

// app holds what both the server and the CLI commands need.
type app struct {
	cfg     *config.Config
	store   rowstore.Store
	svc     *patient.Service
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics
	closer  []func() error
}

func (a *app) close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		_ = a.closer[i]()
	}
}

// openCLI opens the app for a one-shot command with logging disabled.
func openCLI(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, zerolog.Nop())
}

func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	layout, err := config.LoadLayout(cfg.LayoutFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: telemetry.New()}
	if err := a.openStore(ctx, logger); err != nil {
		a.close()
		return nil, err
	}

	a.svc = patient.NewService(a.store, layout, cfg.DeleteConfirmTimeout, logger)
	if err := a.svc.EnsureTables(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, logger zerolog.Logger) error {
	var base rowstore.Store
	switch a.cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closer = append(a.closer, func() error { pool.Close(); return nil })

		pg := rowstore.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		base = pg
	case config.BackendMemory:
		base = rowstore.NewMemory()
	default:
		x, err := rowstore.OpenXLSX(a.cfg.WorkbookPath)
		if err != nil {
			return err
		}
		base = x
	}
	a.closer = append(a.closer, base.Close)

	var cache rowstore.Cache = rowstore.NewMemoryCache()
	if a.cfg.RedisURL != "" {
		rc, err := rowstore.NewRedisCache(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closer = append(a.closer, rc.Close)
		cache = rc
	}
	a.store = rowstore.NewCached(a.metrics.InstrumentStore(base), cache, a.cfg.CacheTTL, logger)
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(parseLevel(cfg.LogLevel))
}

func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logger
	logger := newLogger(cfg)

	// Store and service
	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer a.close()
	logger.Info().Str("backend", a.cfg.StoreBackend).Msg("store ready")

	e, err := newServer(a, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app, logger zerolog.Logger) (*echo.Echo, error) {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, err
	}
	e.Renderer = renderer

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders("/api/"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health
	e.GET("/health", db.HealthHandler(cfg.StoreBackend, a.svc.Check, a.pool))
	e.GET("/metrics", a.metrics.Handler())

	// JSON API
	apiV1 := e.Group("/api/v1")
	patient.NewHandler(a.svc).RegisterRoutes(apiV1)

	// Pages
	web.NewHandler(a.svc, logger).RegisterRoutes(e)

	return e, nil
}
