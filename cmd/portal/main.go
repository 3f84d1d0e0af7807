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
	"github.com/redis/go-redis/v9"

	"github.com/oncoportal/platform/internal/accounts"
	"github.com/oncoportal/platform/internal/audit"
	"github.com/oncoportal/platform/internal/chat"
	"github.com/oncoportal/platform/internal/his"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/notification"
	"github.com/oncoportal/platform/internal/rag"
	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/database"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/metrics"
	secmiddleware "github.com/oncoportal/platform/internal/shared/middleware"
)

// App holds shared infrastructure handles for health reporting and shutdown.
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    events.EventBus
	Stream *events.Bus // non-nil only when KurrentDB is connected
	Redis  *redis.Client
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Database is required: every module persists through it.
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database connection failed: %v\n", err)
		os.Exit(1)
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	// Sample pool usage into the connection gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.RecordDBConnections(int(db.Pool.Stat().TotalConns()))
		}
	}()

	// Event bus: KurrentDB when available, in-memory otherwise. The audit
	// ledger needs the real stream store and stays off in memory mode.
	stream, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		fmt.Println("Running with in-memory event bus; audit ledger disabled")
		app.Bus = events.NewMemoryBus()
	} else {
		app.Stream = stream
		app.Bus = stream
		defer stream.Close()
		fmt.Println("KurrentDB event bus initialized")
	}

	// Redis backs the semantic answer cache (optional).
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			fmt.Printf("Warning: Redis not available: %v\n", err)
			rdb.Close()
		} else {
			app.Redis = rdb
			defer rdb.Close()
			fmt.Println("Redis answer cache initialized")
		}
	}

	// Outbound email: real SMTP in production, a collecting mock otherwise.
	var provider notification.Provider
	if cfg.SMTP.Enabled {
		provider = notification.NewSMTPProvider(cfg.SMTP)
	} else {
		provider = notification.NewMockProvider()
		fmt.Println("SMTP disabled; emails go to the mock provider")
	}
	mailer := notification.NewMailer(provider, cfg.SMTP)

	// Accounts
	issuer := auth.NewTokenIssuer(cfg.Auth)
	accountsRepo := accounts.NewRepository(db.Pool)
	accountsService := accounts.NewService(accountsRepo, issuer, mailer, app.Bus, cfg.Auth)
	accountsHandler := accounts.NewHandler(accountsRepo, accountsService)

	// Medical
	medicalRepo := medical.NewRepository(db.Pool)
	medicalHandler := medical.NewHandler(medicalRepo, app.Bus, cfg.Upload)

	// Retrieval pipeline
	llm := rag.NewOpenAIClient(cfg.RAG)
	store := rag.NewStore(db.Pool)
	chunker := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	indexer := rag.NewIndexer(store, llm, chunker)
	monitor := rag.NewMonitor(db.Pool)
	cache := rag.NewCache(app.Redis, cfg.RAG)
	assistant := rag.NewService(store, llm, llm, cache, monitor, cfg.RAG)

	// Chat
	chatRepo := chat.NewRepository(db.Pool)
	chatService := chat.NewService(chatRepo, accountsRepo, medicalRepo, assistant, app.Bus)
	chatHandler := chat.NewHandler(chatRepo, chatService, indexer, monitor, cache, medicalRepo, cfg.Upload, app.Bus)

	// Audit ledger, hash-chained on the KurrentDB stream
	var auditHandler *audit.Handler
	if app.Stream != nil {
		ledger := audit.NewLedger(app.Stream.Client())
		if err := ledger.Initialize(ctx); err != nil {
			fmt.Printf("Warning: audit ledger initialization failed: %v\n", err)
		} else {
			auditHandler = audit.NewHandler(ledger)
			subscriber := audit.NewSubscriber(ledger)
			if err := subscriber.Start(ctx, app.Bus); err != nil {
				fmt.Printf("Warning: audit subscriber failed to start: %v\n", err)
			} else {
				fmt.Println("Audit subscriber started")
			}
		}
	}

	// Hospital information system import
	var hisAdapter *his.Adapter
	if cfg.HIS.Enabled {
		hisAdapter = his.New(cfg.HIS, accountsRepo, medicalRepo, app.Bus)
		if err := hisAdapter.Start(ctx); err != nil {
			fmt.Printf("Warning: HIS adapter failed to start: %v\n", err)
			hisAdapter = nil
		} else {
			fmt.Printf("HIS import polling %s every %s\n", cfg.HIS.PatientTable, cfg.HIS.PollInterval)
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(100, 200))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// Unauthenticated auth endpoints, rate limited per IP against
	// credential stuffing.
	loginLimiter := secmiddleware.NewIPRateLimiter(1, 10)
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(loginLimiter.Middleware)
		r.Mount("/", accountsHandler.PublicRoutes())
	})

	// Authenticated API
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))

		r.Mount("/accounts", accountsHandler.Routes())
		r.Mount("/medical", medicalHandler.Routes())
		r.Mount("/chat", chatHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRoles(auth.RoleAdministrator))

			r.Mount("/accounts", accountsHandler.AdminRoutes())
			r.Mount("/medical", medicalHandler.AdminRoutes())
			r.Mount("/chat", chatHandler.AdminRoutes())
			if auditHandler != nil {
				r.Mount("/audit", auditHandler.AdminRoutes())
			}
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		if hisAdapter != nil {
			if err := hisAdapter.Stop(ctx); err != nil {
				fmt.Printf("HIS adapter shutdown error: %v\n", err)
			}
		}
		mailer.Wait()
		close(done)
	}()

	fmt.Printf("Oncology patient portal listening on :%d (env: %s)\n", cfg.Server.Port, cfg.Server.Env)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
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

		if app.Stream != nil {
			if err := app.Stream.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
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
