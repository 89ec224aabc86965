// File: internal/infra/sched/renewal_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-paywall-bot/internal/domain/ports/repository"
	"telegram-paywall-bot/internal/infra/metrics"
	"telegram-paywall-bot/internal/usecase"
)

// RenewalWorker periodically charges subscriptions whose paid period has
// ended. Running it again on the same day is harmless: renewed
// subscriptions are no longer due, failed ones sit in past_due until the
// next tick retries them.
type RenewalWorker struct {
	interval time.Duration
	batch    int
	payUC    usecase.PaymentUseCase
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewRenewalWorker(interval time.Duration, payUC usecase.PaymentUseCase, subs repository.SubscriptionRepository, logger *zerolog.Logger) *RenewalWorker {
	l := logger.With().Str("component", "RenewalWorker").Logger()
	return &RenewalWorker{
		interval: interval,
		batch:    200,
		payUC:    payUC,
		subs:     subs,
		log:      &l,
	}
}

func (w *RenewalWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting renewal worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping renewal worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RenewalWorker) tick(ctx context.Context) {
	renewed, failed, err := w.payUC.RenewDue(ctx, time.Now(), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("renewal sweep error")
		return
	}
	if renewed > 0 || failed > 0 {
		w.log.Info().Int("renewed", renewed).Int("failed", failed).Msg("renewal sweep finished")
	}

	if active, err := w.subs.CountActive(ctx); err == nil {
		metrics.SetActiveSubscriptions(active)
	}
}
