// Package reconcile runs the periodic ledger-vs-store scan. It finds
// certificates confirmed on the ledger but absent off-chain (failed second
// phase of issuance) and records divergences for operator follow-up. Nothing
// is auto-healed.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/platform/metrics"
	"certifychain/internal/store"
)

// Worker scans each known institution's ledger enumeration on a fixed
// interval.
type Worker struct {
	chain        ledger.Client
	institutions store.InstitutionStore
	certs        store.CertificateStore
	divergences  store.DivergenceStore
	interval     time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(w *Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(chain ledger.Client, institutions store.InstitutionStore, certs store.CertificateStore, divergences store.DivergenceStore, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		chain:        chain,
		institutions: institutions,
		certs:        certs,
		divergences:  divergences,
		interval:     interval,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans on the configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Scan(ctx); err != nil {
				w.logger.ErrorContext(ctx, "reconcile scan failed", "error", err)
			}
		}
	}
}

// Scan runs one full pass. A single institution's failure is logged and does
// not abort the rest.
func (w *Worker) Scan(ctx context.Context) error {
	insts, err := w.institutions.List(ctx)
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if err := w.scanInstitution(ctx, inst); err != nil {
			w.logger.WarnContext(ctx, "institution scan failed",
				"institution_id", inst.ID,
				"address", inst.Address.Hex(),
				"error", err,
			)
		}
	}
	return nil
}

func (w *Worker) scanInstitution(ctx context.Context, inst domain.Institution) error {
	count, err := w.chain.CertificateCount(ctx, inst.Address)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		certificateID, err := w.chain.CertificateAt(ctx, inst.Address, i)
		if err != nil {
			return err
		}
		exists, err := w.certs.Exists(ctx, certificateID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := w.report(ctx, certificateID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) report(ctx context.Context, certificateID string) error {
	// The same gap stays open until an operator resolves it; one record is
	// enough.
	recorded, err := w.divergences.Exists(ctx, certificateID, domain.DivergenceStoreMissing)
	if err != nil {
		return err
	}
	if recorded {
		return nil
	}
	w.metrics.IncrementDivergence(string(domain.DivergenceStoreMissing))
	w.logger.InfoContext(ctx, "reconcile found ledger certificate missing off-chain",
		"certificate_id", certificateID,
	)
	return w.divergences.Append(ctx, domain.Divergence{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Kind:          domain.DivergenceStoreMissing,
		Detail:        "found by reconcile scan: confirmed on the ledger, no off-chain record",
		DetectedAt:    w.now().UTC(),
	})
}
