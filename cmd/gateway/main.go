package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/config"
	"trustgate.org/internal/gateway"
	"trustgate.org/internal/httpapi"
	"trustgate.org/internal/obs"
	"trustgate.org/internal/pki"
	"trustgate.org/internal/registry"
	"trustgate.org/internal/resilience"
	"trustgate.org/internal/store/pg"
	"trustgate.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		db            *sql.DB
		registryStore registry.Store
		accessStore   access.Store
		certStore     pki.Store
		auditStore    audit.Store
		txStore       audit.TxStore
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = pgStore.DB()
		registryStore = pgStore.Registry()
		accessStore = pgStore.Access()
		certStore = pgStore.Certificates()
		auditStore = pgStore.Audit()
		txStore = pgStore.Transactions()
	} else {
		log.Printf("no TRUSTGATE_PG_DSN set, using in-memory stores")
		registryStore = registry.NewInMemoryStore()
		accessStore = access.NewInMemoryStore()
		certStore = pki.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		txStore = audit.NewInMemoryTxStore()
	}

	reg, err := registry.New(registryStore)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	ctl, err := access.NewControl(accessStore)
	if err != nil {
		log.Fatalf("access control: %v", err)
	}

	keys, err := pki.NewKeystore(cfg.KeystoreDir)
	if err != nil {
		log.Fatalf("keystore: %v", err)
	}
	certs, err := pki.NewManager(certStore, keys)
	if err != nil {
		log.Fatalf("pki: %v", err)
	}
	if err := certs.InitializeRootCA(context.Background()); err != nil {
		log.Fatalf("root CA: %v", err)
	}
	signKey, err := keys.SigningKey()
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}

	auditLog, err := audit.NewLog(auditStore)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	txlog, err := audit.NewTransactionLog(txStore)
	if err != nil {
		log.Fatalf("transaction log: %v", err)
	}
	events := stream.New()

	gw, err := gateway.New(gateway.Deps{
		Instance: cfg.Instance,
		Registry: reg,
		Access:   ctl,
		PKI:      certs,
		Limiter: resilience.NewRateLimiter(resilience.LimiterConfig{
			OrganizationPerMinute: cfg.Limits.OrganizationPerMinute,
			ServicePerMinute:      cfg.Limits.ServicePerMinute,
			BurstMultiplier:       cfg.Limits.BurstMultiplier,
		}),
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			SuccessThreshold: cfg.Circuit.SuccessThreshold,
			ResetTimeout:     cfg.Circuit.ResetTimeout.Std(),
			HalfOpenMaxCalls: cfg.Circuit.HalfOpenMaxCalls,
		}),
		Audit:  auditLog,
		TxLog:  txlog,
		Events: events,
		Client: &http.Client{
			Timeout: cfg.Forwarding.DefaultTimeout.Std(),
		},
		SigningKey:   signKey,
		MaxBodyBytes: cfg.Forwarding.MaxBodyBytes,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	operators := access.NewOperators()
	bootstrapAdmin(operators)
	tokens := access.NewTokens(cfg.AuthSecret, 24*time.Hour)
	if !tokens.Enabled() {
		log.Printf("TRUSTGATE_AUTH_SECRET not set, authentication disabled")
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Deps{
		Registry:  reg,
		Access:    ctl,
		RBAC:      access.NewRBAC(1000),
		Tokens:    tokens,
		Operators: operators,
		PKI:       certs,
		Audit:     auditLog,
		TxLog:     txlog,
		Gateway:   gw,
		Stream:    events,
	})

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.CORS(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(api.Handler(), 100, 50),
					cfg.Forwarding.MaxBodyBytes,
				))))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("starting trustgate %s on %s (instance %s)", version, srv.Addr, cfg.Instance)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("stopped")
}

// bootstrapAdmin seeds the first platform administrator from the environment
// so a fresh deployment can log in.
func bootstrapAdmin(operators *access.Operators) {
	email := os.Getenv("TRUSTGATE_ADMIN_EMAIL")
	password := os.Getenv("TRUSTGATE_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	if _, err := operators.Create(context.Background(), email, password, []string{access.RolePlatformAdmin}, nil); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}
	log.Printf("bootstrap admin %s created", email)
}
