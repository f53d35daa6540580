package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesio-ai/be-doc-approvals/internal/client"
	"github.com/pesio-ai/be-doc-approvals/internal/handler"
	"github.com/pesio-ai/be-doc-approvals/internal/memstore"
	"github.com/pesio-ai/be-doc-approvals/internal/metrics"
	"github.com/pesio-ai/be-doc-approvals/internal/repository"
	"github.com/pesio-ai/be-doc-approvals/internal/service"
	"github.com/pesio-ai/be-doc-approvals/pkg/auth"
	"github.com/pesio-ai/be-doc-approvals/pkg/config"
	"github.com/pesio-ai/be-doc-approvals/pkg/database"
	"github.com/pesio-ai/be-doc-approvals/pkg/logger"
	"github.com/pesio-ai/be-doc-approvals/pkg/middleware"
	"github.com/pesio-ai/be-doc-approvals/pkg/natsclient"
)

// stores groups the persistence backends the service runs on.
type stores struct {
	assignments service.AssignmentStore
	decisions   service.DecisionRepository
	history     service.StatusHistoryRepository
	rules       handler.RuleStore
	ruleSource  service.RuleSource
	documents   service.DocumentSync
	profiles    client.ProfileSource
	tx          service.Transactor // nil for the memory store
	ping        func(context.Context) error
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Document Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	// Service
	names := client.NewProfileDirectory(st.profiles, cfg.Cache.ProfileTTL, log.Logger)
	documents := client.NewGuardedDocumentSync(st.documents, client.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, log.Logger)

	approvals := service.NewApprovalWorkflowService(
		st.assignments,
		st.decisions,
		st.history,
		client.ContextIdentity{},
		log,
		service.Options{
			Transactor:          st.tx,
			Rules:               st.ruleSource,
			Documents:           documents,
			Names:               names,
			Metrics:             recorder,
			AllowedSourceTables: cfg.Propagation.AllowedTables,
		},
	)

	// Event fan-out
	hub := handler.NewEventHub(log, cfg.Server.CORSOrigins)
	go hub.Run(ctx)
	approvals.Subscribe(hub.HandleEvent)

	if cfg.NATS.URL != "" {
		nc, err := natsclient.Connect(natsclient.Config{URL: cfg.NATS.URL, Name: cfg.Service.Name}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		approvals.Subscribe(client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger).HandleEvent)
		log.Info().Str("url", cfg.NATS.URL).Msg("Approval notifications enabled")
	}

	if cfg.Redis.Addr != "" {
		rdb := client.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		approvals.Subscribe(client.NewRedisEventPublisher(rdb, cfg.Redis.Channel, log.Logger).HandleEvent)
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("Redis event fan-out enabled")
	}

	// Setup HTTP routes
	validator := auth.NewValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","store":%q,"breaker":%q}`, cfg.Store.Driver, documents.State())
			return
		}
		fmt.Fprintf(w, `{"status":"healthy","store":%q,"breaker":%q,"ws_clients":%d}`,
			cfg.Store.Driver, documents.State(), hub.ClientCount())
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.ServeWS)

	httpHandler := handler.NewHTTPHandler(approvals, st.rules, log)
	httpHandler.Register(router)

	// Apply middleware
	var h http.Handler = router
	h = auth.Middleware(validator, &log.Logger, "/health", "/metrics")(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := handler.NewGRPCServer(validator, handler.NewGRPCHandler(approvals, log.Logger))

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()
	cancel()

	log.Info().Msg("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		mem := memstore.New()
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return &stores{
			assignments: mem.Assignments(),
			decisions:   mem.Decisions(),
			history:     mem.History(),
			rules:       mem.Rules(),
			ruleSource:  mem.Rules(),
			documents:   mem.Documents(),
			profiles:    mem.Profiles(),
			ping:        func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	rules := repository.NewApprovalRulesRepository(db)
	return &stores{
		assignments: repository.NewAssignmentRepository(db),
		decisions:   repository.NewDecisionRepository(db),
		history:     repository.NewStatusHistoryRepository(db),
		rules:       rules,
		ruleSource:  rules,
		documents:   repository.NewDocumentRepository(db),
		profiles:    repository.NewProfileRepository(db),
		tx:          db,
		ping:        db.Ping,
		close:       db.Close,
	}, nil
}
