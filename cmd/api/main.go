package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/config"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	appHTTP "github.com/cmlabs-hris/payroll-engine/internal/handler/http"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/cron"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/rules"
	"github.com/cmlabs-hris/payroll-engine/internal/repository/postgresql"
	payrollService "github.com/cmlabs-hris/payroll-engine/internal/service/payroll"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL()
	db, err := database.NewPostgreSQLDB(dsn, database.WithMaxConns(int32(cfg.Payroll.BatchConcurrency)+10))
	if err != nil {
		fmt.Println("Error connecting to database:", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Payroll.MigrateOnStart {
		if err := postgresql.Migrate(db); err != nil {
			fmt.Println("Error migrating database:", err)
			os.Exit(1)
		}
		slog.Info("Database schema applied")
	}

	payrollRepo := postgresql.NewPayrollRepository(db)
	transactor := postgresql.NewTransactor(db)

	var statutorySource payroll.DeductionTemplateSource
	switch cfg.Payroll.StatutorySource {
	case config.StatutorySourceFile:
		source, err := rules.Load(cfg.Payroll.RulesFile)
		if err != nil {
			fmt.Println("Error loading statutory rules:", err)
			os.Exit(1)
		}
		slog.Info("Statutory rules loaded", "file", cfg.Payroll.RulesFile, "jurisdictions", source.Jurisdictions())
		statutorySource = source
	default:
		statutorySource = postgresql.NewDeductionTemplateRepository(db)
	}

	engine := payrollService.NewEngine(slog.Default(), cfg.Payroll.BatchConcurrency)
	payrollSvc := payrollService.NewPayrollService(payrollRepo, statutorySource, transactor, engine)

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, time.Hour)
	payrollHandler := appHTTP.NewPayrollHandler(payrollSvc)
	router := appHTTP.NewRouter(cfg.App, JWTService, payrollHandler)

	if cfg.Payroll.AutoRunInterval > 0 {
		scheduler := cron.NewScheduler()
		cron.NewPayrollJobs(payrollSvc, payrollRepo, cfg.Payroll.AutoRunCompanies).RegisterJobs(scheduler, cfg.Payroll.AutoRunInterval)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting server", "port", cfg.App.Port, "env", cfg.App.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
