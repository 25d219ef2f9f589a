package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/username/slips/src/config"
	"github.com/username/slips/src/database"
	"github.com/username/slips/src/handlers"
	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/metrics/prometheus"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/processors"
	"github.com/username/slips/src/reference"
	"github.com/username/slips/src/security"
	"github.com/username/slips/src/services"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the named operator and exit")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an operator API key (for OPERATOR_KEY_HASH) and exit")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}
	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry, config.Cfg.OperatorKeyHash)

	switch {
	case *issueToken != "":
		token, err := authService.GenerateToken(*issueToken)
		if err != nil {
			stdlog.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	case *hashKey != "":
		hash, err := authService.HashKey(*hashKey)
		if err != nil {
			stdlog.Fatalf("Failed to hash key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	logger.L.Info("SLIPS server starting...")

	logger.L.Info("Loading reference data...", "dir", config.Cfg.ConfigDir)
	referenceLoader := reference.NewLoader(config.Cfg.ConfigDir)
	if _, err := referenceLoader.Load(); err != nil {
		logger.L.Error("Failed to load reference data", "error", err)
		os.Exit(1)
	}

	formula, err := processors.NewSecurityFormula(config.Cfg.SecurityFormula, config.Cfg.SecuritySecretA, config.Cfg.SecuritySecretB)
	if err != nil {
		logger.L.Error("Invalid SECURITY_FORMULA", "formula", config.Cfg.SecurityFormula, "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	store := database.InitDB(config.Cfg.DatabasePath, database.BusyPolicy{
		Timeout: config.Cfg.StoreBusyTimeout,
		Retries: config.Cfg.StoreBusyRetries,
		Backoff: config.Cfg.StoreBusyBackoff,
	})
	defer store.Close()
	logger.L.Info("Database initialized successfully.")

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := prometheus.NewPrometheusCollector("slips")
	if err := collector.Register(registry); err != nil {
		logger.L.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing services and handlers...")
	classifier := processors.NewTransactionClassifier()
	reconciler := processors.NewTotalsReconciler()
	insertionService := services.NewInsertionService(store, referenceLoader, classifier, reconciler, collector)
	orchestrator := services.NewRecreationOrchestrator(services.RecreationDeps{
		Store:      store,
		Reference:  referenceLoader,
		Classifier: classifier,
		Reconciler: reconciler,
		Formula:    formula,
		Advisor: processors.NewValueDateAdvisor(
			processors.ValueDatePolicy{Name: string(models.BatchNormal), Cutoff: config.Cfg.CutoffTime},
			processors.ValueDatePolicy{Name: string(models.BatchSalary), Cutoff: config.Cfg.SalaryCutoffTime, LeadBusinessDays: config.Cfg.SalaryLeadDays},
		),
		Notifier:  services.NewNotifier(),
		Metrics:   collector,
		Registry:  cache.New(config.Cfg.RunRetention, services.RunCleanupInterval),
		Retention: config.Cfg.RunRetention,
		BankCode:  config.Cfg.BankCode,
	})

	apiRouter := handlers.NewAPIRouter(
		authService,
		handlers.NewAuthHandler(authService),
		handlers.NewSlipHandler(insertionService, referenceLoader),
		handlers.NewRunHandler(orchestrator),
	)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	rootMux.Handle("/api/", apiRouter)
	rootMux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	rootMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "SLIPS processor is running"})
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
		}
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      rateLimitMiddleware(rootMux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", serverAddr)
	if err != nil {
		stdlog.Fatalf("Failed to listen on %s: %v", serverAddr, err)
	}
	if config.Cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, config.Cfg.MaxConnections)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.L.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L.Error("Graceful shutdown failed", "error", err)
		}
	}()

	logger.L.Info("Server starting", "address", serverAddr, "maxConnections", config.Cfg.MaxConnections)
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
