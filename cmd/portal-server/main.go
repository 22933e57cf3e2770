package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/weightcare/portal/internal/config"
	"github.com/weightcare/portal/internal/domain/consultation"
	"github.com/weightcare/portal/internal/domain/decision"
	"github.com/weightcare/portal/internal/domain/identity"
	"github.com/weightcare/portal/internal/domain/triage"
	"github.com/weightcare/portal/internal/platform/alert"
	"github.com/weightcare/portal/internal/platform/auth"
	"github.com/weightcare/portal/internal/platform/db"
	"github.com/weightcare/portal/internal/platform/middleware"
	"github.com/weightcare/portal/internal/platform/notification"
	"github.com/weightcare/portal/internal/platform/payment"
	"github.com/weightcare/portal/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Weight-loss consultation portal API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(triageCmd())

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

// migrationFS returns the embedded migrations unless dir names an override on
// disk.
func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			count, err := db.NewMigrator(pool, migrationFS(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dir == "" {
				dir = cfg.MigrationsDir
			}
			statuses, err := db.NewMigrator(pool, migrationFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func triageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Run the eligibility questionnaire offline",
	}

	evalCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a JSON answer file and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return evaluateAnswers(f, cmd.OutOrStdout())
		},
	}
	evalCmd.Flags().String("file", "", "Path to a JSON object of question id to answer")
	cmd.AddCommand(evalCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the questionnaire schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(triage.WeightLossSchema())
		},
	})

	return cmd
}

type evaluation struct {
	Session  triage.Session     `json:"session"`
	Result   *triage.Transition `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Question string             `json:"question_id,omitempty"`
}

// evaluateAnswers reads {question_id: answer} and writes the engine's verdict.
// Validation failures are reported in the output, not as an error.
func evaluateAnswers(r io.Reader, w io.Writer) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("decode answers: %w", err)
	}

	engine := triage.NewEngine(triage.WeightLossSchema())
	answers, err := triage.DecodeAnswers(engine.Schema(), raw)
	if err != nil {
		return err
	}

	var out evaluation
	s, tr, err := engine.Evaluate(answers)
	out.Session = s
	var verr *triage.ValidationError
	if errors.As(err, &verr) {
		out.Error = verr.Message
		out.Question = verr.QuestionID
	} else if err != nil {
		return err
	} else {
		out.Result = &tr
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newEmailSender returns the transactional email sender, or a log-only sender
// when no API key is configured.
func newEmailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if !cfg.EmailEnabled() {
		return notification.LogEmailSender{Logger: logger}
	}
	return notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridAPIHost, cfg.EmailFrom,
		notification.WithHTTPClient(&http.Client{Timeout: cfg.ExternalCallTimeout}))
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware([]byte(cfg.JWTSecret))
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		SigningKey: []byte(cfg.JWTSecret),
	})
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Error reporting
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			logger.Error().Err(err).Msg("sentry init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
			logger.Info().Msg("sentry enabled")
		}
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Services
	engine := triage.NewEngine(triage.WeightLossSchema())
	consultationSvc := consultation.NewService(consultation.NewRepo(pool), engine)
	identitySvc := identity.NewService(identity.NewPatientRepo(pool))
	alertStore := alert.NewPGStore(pool)
	mailer := notification.NewManager(newEmailSender(cfg, logger), notification.NewTemplateEngine(), logger)

	reconciler := decision.NewReconciler(decision.Dependencies{
		Consultations: consultationSvc,
		Patients:      identitySvc,
		Payments:      payment.NewStripeGateway(cfg.StripeSecretKey, nil),
		Notifier:      mailer,
		Alerts:        alert.Fanout{alertStore, alert.NewSentrySink(nil)},
		Logger:        logger.With().Str("component", "reconciler").Logger(),
	},
		decision.WithCallTimeout(cfg.ExternalCallTimeout),
		decision.WithEmailDefaults(cfg.PortalURL, cfg.RefundAmount),
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	requireAuth := authMiddleware(cfg)

	// Clinical decision function: open CORS, pharmacist only.
	decision.NewHandler(reconciler).RegisterRoutes(e, requireAuth, auth.RequireRole(auth.RolePharmacist))

	// API groups
	apiV1 := e.Group("/api/v1", echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	var limit []echo.MiddlewareFunc
	if cfg.RateLimitRPS > 0 {
		limit = append(limit, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			IdleTTL:           10 * time.Minute,
		}))
	}

	public := apiV1.Group("", limit...)
	triage.NewHandler(engine).RegisterRoutes(public)

	protected := apiV1.Group("", append([]echo.MiddlewareFunc{requireAuth}, limit...)...)
	consultation.NewHandler(consultationSvc).RegisterRoutes(protected)
	identity.NewHandler(identitySvc).RegisterRoutes(protected)
	alert.NewHandler(alertStore).RegisterRoutes(protected)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
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

	// Let in-flight decision emails finish.
	drained := make(chan struct{})
	go func() {
		reconciler.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown deadline reached with decision emails still pending")
	}

	logger.Info().Msg("server stopped")
	return nil
}
