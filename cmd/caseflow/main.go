package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/openwelfare/caseflow/internal/adapters/directory"
	"github.com/openwelfare/caseflow/internal/audit"
	caseapi "github.com/openwelfare/caseflow/internal/case/api"
	caseinfra "github.com/openwelfare/caseflow/internal/case/infrastructure"
	"github.com/openwelfare/caseflow/internal/masterdata"
	"github.com/openwelfare/caseflow/internal/role"
	"github.com/openwelfare/caseflow/internal/shared/auth"
	"github.com/openwelfare/caseflow/internal/shared/config"
	"github.com/openwelfare/caseflow/internal/shared/database"
	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/events"
	"github.com/openwelfare/caseflow/internal/shared/metrics"
	secmiddleware "github.com/openwelfare/caseflow/internal/shared/middleware"
	"github.com/openwelfare/caseflow/internal/user"
	"github.com/openwelfare/caseflow/internal/workflow"
)

// App holds the application dependencies
type App struct {
	Config    *config.Config
	DB        *database.DB
	Bus       *events.Bus
	Directory *directory.Adapter
	Logger    *logrus.Logger
}

func main() {
	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if cfg.Server.Env == "development" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}

	app := &App{Config: cfg, Logger: logger}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("database not available")
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		logger.WithError(err).Fatal("migration failed")
	}

	// Event bus is optional; without it the API runs but nothing is
	// published or audited.
	bus, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		logger.WithError(err).Warn("KurrentDB not available, running without event streaming")
	} else {
		app.Bus = bus
		defer bus.Close()
		logger.Info("event bus initialized")
	}

	var busIface events.EventBus
	if app.Bus != nil {
		busIface = app.Bus
	}

	roleRepo := role.NewRepository(db.Pool)
	if err := ensureSuperAdminRole(ctx, roleRepo, cfg.Workflow.SuperAdminRole); err != nil {
		logger.WithError(err).Fatal("failed to ensure administrator role")
	}

	userRepo := user.NewRepository(db.Pool)
	masterRepo := masterdata.NewRepository(db.Pool)
	workflowRepo := workflow.NewPostgresRepository(db.Pool)
	caseRepo := caseinfra.NewPostgresRepository(db.Pool)

	evaluator := workflow.NewEvaluator(workflowRepo, cfg.Workflow, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(500, 1000))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	ipLimiter := secmiddleware.NewIPRateLimiter(50, 100)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ipLimiter.Middleware)
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/", masterdata.NewHandler(masterRepo).Routes())
		r.Mount("/cases", caseapi.NewHandler(caseRepo, workflowRepo, evaluator, cfg.Workflow, busIface).Routes())

		// Registry and identity administration
		r.Group(func(r chi.Router) {
			if cfg.Server.Env == "production" {
				r.Use(auth.RequireRoles("admin", cfg.Workflow.SuperAdminRole))
			}

			r.Mount("/roles", role.NewHandler(roleRepo, busIface).Routes())
			r.Mount("/users", user.NewHandler(userRepo, busIface).Routes())
			r.Mount("/workflow-stages", workflow.NewHandler(workflowRepo, busIface).Routes())
		})

		if app.Bus != nil {
			auditRepo := audit.NewKurrentDBRepository(app.Bus.Client())
			if err := auditRepo.Initialize(ctx); err != nil {
				logger.WithError(err).Warn("audit initialization failed")
			}
			r.Mount("/audit", audit.NewHandler(auditRepo).Routes())

			subscriber := audit.NewSubscriber(auditRepo, app.Bus, logger)
			if err := subscriber.Start(ctx); err != nil {
				logger.WithError(err).Warn("audit subscriber failed to start")
			} else {
				logger.Info("audit subscriber started")
			}
		}
	})

	// Legacy membership directory sync (optional)
	if cfg.Directory.Enabled {
		app.Directory = directory.New(cfg.Directory, logger)
		syncer := directory.NewUserSyncer(userRepo, masterRepo, logger)
		if err := app.Directory.Start(ctx, syncer); err != nil {
			logger.WithError(err).Warn("directory adapter failed to start")
			app.Directory = nil
		} else {
			logger.Info("directory sync started")
			go func() {
				applied, err := syncer.Reconcile(ctx, app.Directory)
				if err != nil {
					logger.WithError(err).Warn("directory reconcile failed")
					return
				}
				logger.WithField("applied", applied).Info("directory reconcile completed")
			}()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				app.Directory.Stop(stopCtx)
			}()
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown error")
		}
		close(done)
	}()

	logger.WithFields(logrus.Fields{
		"env":  cfg.Server.Env,
		"port": cfg.Server.Port,
	}).Info("caseflow started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server error")
	}

	<-done
	logger.Info("server stopped")
}

// ensureSuperAdminRole creates the sentinel administrator role on first
// boot. A concurrent replica winning the insert race is fine.
func ensureSuperAdminRole(ctx context.Context, repo *role.Repository, name string) error {
	_, err := repo.GetByName(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.IsNotFound(err) {
		return err
	}

	admin, err := role.New(name, "Super Administrator", "implicitly granted every permission", nil, nil)
	if err != nil {
		return err
	}
	if err := repo.Create(ctx, admin); err != nil && !errors.IsConflict(err) {
		return err
	}
	return nil
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "caseflow",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		if app.Directory != nil {
			if err := app.Directory.Health(r.Context()); err != nil {
				checks["directory"] = "not ready: " + err.Error()
			} else {
				checks["directory"] = "ready"
			}
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
