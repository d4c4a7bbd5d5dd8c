package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"certifychain/internal/apikey"
	"certifychain/internal/institution"
	"certifychain/internal/issuance"
	"certifychain/internal/ledger"
	"certifychain/internal/ledger/evm"
	"certifychain/internal/platform/config"
	"certifychain/internal/platform/httpserver"
	"certifychain/internal/platform/logger"
	"certifychain/internal/platform/metrics"
	"certifychain/internal/platform/middleware"
	platformredis "certifychain/internal/platform/redis"
	"certifychain/internal/reconcile"
	"certifychain/internal/revocation"
	"certifychain/internal/store"
	httptransport "certifychain/internal/transport/http"
	"certifychain/internal/verification"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	institutions  store.InstitutionStore
	students      store.StudentStore
	certs         store.CertificateStore
	keys          store.APIKeyStore
	verifications store.VerificationStore
	divergences   store.DivergenceStore
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	chain, closeChain, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeChain()

	recorderOpts := []verification.RecorderOption{
		verification.RecorderWithLogger(log),
		verification.RecorderWithMetrics(m),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := verification.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer publisher.Close()
		recorderOpts = append(recorderOpts, verification.RecorderWithSink(publisher))
		log.Info("verification events publishing to kafka", "topic", cfg.KafkaTopic)
	}
	recorder := verification.NewRecorder(st.verifications, 256, recorderOpts...)
	go func() {
		if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event recorder stopped", "error", err)
		}
	}()

	instSvc := institution.New(chain, st.institutions, st.certs, institution.WithLogger(log))
	keySvc := apikey.New(st.keys, apikey.WithLogger(log))

	handler := httptransport.NewHandler(httptransport.Config{
		Verifier: verification.New(chain, st.certs, st.students, st.divergences,
			verification.WithLogger(log),
			verification.WithMetrics(m),
			verification.WithRecorder(recorder),
		),
		Issuer: issuance.New(chain, st.students, st.certs, st.divergences,
			issuance.WithLogger(log),
			issuance.WithMetrics(m),
		),
		Revoker: revocation.New(chain, st.certs, st.divergences,
			revocation.WithLogger(log),
			revocation.WithMetrics(m),
		),
		Institutions:  instSvc,
		Keys:          keySvc,
		Divergences:   st.divergences,
		WalletAuth:    middleware.NewWalletAuthenticator(chain, log),
		KeyAuth:       keySvc,
		Logger:        log,
		PublicBaseURL: cfg.PublicBaseURL,
		OperatorToken: cfg.OperatorToken,
	})

	router := chi.NewRouter()
	handler.Register(router)

	if cfg.ReconcileInterval > 0 {
		worker := reconcile.New(chain, st.institutions, st.certs, st.divergences, cfg.ReconcileInterval,
			reconcile.WithLogger(log),
			reconcile.WithMetrics(m),
		)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("reconcile worker stopped", "error", err)
			}
		}()
	}

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting certifychain", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStores prefers Postgres and falls back to in-memory stores for local
// development when no DSN is configured.
func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (stores, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		return stores{
			institutions:  store.NewMemoryInstitutionStore(),
			students:      store.NewMemoryStudentStore(),
			certs:         store.NewMemoryCertificateStore(),
			keys:          store.NewMemoryAPIKeyStore(),
			verifications: store.NewMemoryVerificationStore(),
			divergences:   store.NewMemoryDivergenceStore(),
		}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return stores{}, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("ping postgres: %w", err)
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return stores{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return stores{
		institutions:  pg.Institutions(),
		students:      pg.Students(),
		certs:         pg.Certificates(),
		keys:          pg.APIKeys(),
		verifications: pg.Verifications(),
		divergences:   pg.Divergences(),
	}, func() { db.Close() }, nil
}

// openLedger dials the configured chain RPC, or falls back to the in-process
// state machine so the stack runs without external chain infrastructure.
func openLedger(ctx context.Context, cfg config.Server, log *slog.Logger) (ledger.Client, func(), error) {
	if cfg.Chain.RPCEndpoint == "" {
		log.Warn("CHAIN_RPC_ENDPOINT not set, using in-process ledger state machine")
		return ledger.NewStateMachine(nil), func() {}, nil
	}

	client, err := evm.Dial(ctx, evm.Config{
		RPCEndpoint:     cfg.Chain.RPCEndpoint,
		ContractAddress: common.HexToAddress(cfg.Chain.ContractAddress),
		SignerKeyHex:    cfg.Chain.SignerKeyHex,
		CallTimeout:     cfg.Chain.CallTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger: %w", err)
	}

	var chain ledger.Client = client
	closeFn := client.Close

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		chain = ledger.NewCachedClient(chain, rdb.Client, cfg.Redis.TTL, log)
		prev := closeFn
		closeFn = func() {
			rdb.Close()
			prev()
		}
		log.Info("institution details cached in redis", "ttl", cfg.Redis.TTL)
	}

	return chain, closeFn, nil
}
