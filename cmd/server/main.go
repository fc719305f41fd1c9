package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"custodia/internal/audit"
	consentservice "custodia/internal/consent/service"
	consentstore "custodia/internal/consent/store"
	credentialservice "custodia/internal/credential/service"
	credentialstore "custodia/internal/credential/store"
	identityservice "custodia/internal/identity/service"
	identitystore "custodia/internal/identity/store"
	ledgerservice "custodia/internal/ledger/service"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/config"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/database"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/notify"
	platformredis "custodia/internal/platform/redis"
	sharingservice "custodia/internal/sharing/service"
	sharingstore "custodia/internal/sharing/store"
	httptransport "custodia/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing custodia",
		"addr", cfg.Addr,
		"allow_self_issuance", cfg.AllowSelfIssuance,
	)

	m := metrics.New()
	hasher := crypto.NewSHA256Hasher()
	signer := crypto.NewEd25519Signer()
	sealer := crypto.NewChaChaSealer()

	bus := notify.NewBus(256, log)
	defer bus.Close()

	if cfg.KafkaBrokers != "" {
		sink, err := notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Retries: 3}, log)
		if err != nil {
			log.Error("kafka sink init failed", "error", err)
			os.Exit(1)
		}
		go sink.Run(bus.Subscribe())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.Close(ctx); err != nil {
				log.Error("kafka sink close failed", "error", err)
			}
		}()
		log.Info("kafka notification sink attached", "brokers", cfg.KafkaBrokers)
	}

	auditor := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	)
	defer auditor.Close()

	var recordStore ledgerstore.Store = ledgerstore.New()
	pool, err := database.New(databaseConfig(cfg))
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		recordStore = ledgerstore.NewPostgres(pool.DB())
		log.Info("postgres ledger store attached")
	}

	var tokenStore sharingstore.Store = sharingstore.New()
	redisClient, err := platformredis.New(context.Background(), platformredis.Config{Addr: cfg.RedisAddr})
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokenStore = sharingstore.NewRedis(redisClient)
		log.Info("redis token store attached", "addr", cfg.RedisAddr)
	}

	identitySvc := identityservice.NewService(
		identitystore.New(), identitystore.NewChallengeStore(), signer,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(m),
		identityservice.WithNotifier(bus),
	)
	credentialSvc := credentialservice.NewService(
		credentialstore.New(), identitySvc, signer,
		credentialservice.Policy{AllowSelfIssuance: cfg.AllowSelfIssuance},
		credentialservice.WithLogger(log),
		credentialservice.WithMetrics(m),
		credentialservice.WithNotifier(bus),
		credentialservice.WithAuditor(auditor),
	)
	consentSvc := consentservice.NewService(
		consentstore.New(),
		consentservice.WithLogger(log),
		consentservice.WithMetrics(m),
		consentservice.WithNotifier(bus),
		consentservice.WithAuditor(auditor),
		consentservice.WithDefaultTTL(cfg.ConsentTTL),
	)
	ledgerSvc := ledgerservice.NewService(
		recordStore, hasher, sealer, consentSvc,
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(m),
		ledgerservice.WithNotifier(bus),
		ledgerservice.WithAuditor(auditor),
		ledgerservice.WithColdChainBounds(ledgerservice.ColdChainBounds{
			Min: cfg.ColdChainMin,
			Max: cfg.ColdChainMax,
		}),
	)
	sharingSvc := sharingservice.NewService(
		tokenStore, ledgerSvc, sealer, signingKey(cfg, log),
		sharingservice.WithLogger(log),
		sharingservice.WithMetrics(m),
		sharingservice.WithAuditor(auditor),
		sharingservice.WithDefaultTTL(cfg.TokenTTL),
	)

	handler := httptransport.NewHandler(log, identitySvc, credentialSvc, ledgerSvc, consentSvc, sharingSvc, auditor)
	router := httptransport.NewRouter(handler, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func databaseConfig(cfg config.Server) database.Config {
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	return dbCfg
}

// signingKey returns the configured token signing key, or a process-local
// random key. Compact tokens signed with a random key do not survive a
// restart; set CUSTODIA_TOKEN_SIGNING_KEY in production.
func signingKey(cfg config.Server, log *slog.Logger) []byte {
	if cfg.TokenSigningKey != "" {
		return []byte(cfg.TokenSigningKey)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	log.Warn("CUSTODIA_TOKEN_SIGNING_KEY not set, using ephemeral signing key")
	return key
}
