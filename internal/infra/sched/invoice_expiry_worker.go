// File: internal/infra/sched/invoice_expiry_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/usecase"
)

// InvoiceExpiryWorker closes crypto invoices that sat in
// waiting_for_redirect past the provider's validity window, so a stale
// invoice cannot be paid into a dead payment record.
type InvoiceExpiryWorker struct {
	interval time.Duration
	window   time.Duration
	batch    int
	payUC    usecase.PaymentUseCase
	log      *zerolog.Logger
}

func NewInvoiceExpiryWorker(interval, window time.Duration, payUC usecase.PaymentUseCase, logger *zerolog.Logger) *InvoiceExpiryWorker {
	l := logger.With().Str("component", "InvoiceExpiryWorker").Logger()
	return &InvoiceExpiryWorker{
		interval: interval,
		window:   window,
		batch:    100,
		payUC:    payUC,
		log:      &l,
	}
}

func (w *InvoiceExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("window", w.window).Msg("starting invoice expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping invoice expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.payUC.ExpireStale(ctx, w.window, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("invoice expiry sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stale invoices expired")
			}
		}
	}
}
