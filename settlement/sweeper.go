package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/voucherhub/config"
	"goflare.io/voucherhub/driver"
	"goflare.io/voucherhub/lock"
	"goflare.io/voucherhub/models"
	"goflare.io/voucherhub/models/enum"
	"goflare.io/voucherhub/processor"
	"goflare.io/voucherhub/voucher"
)

const (
	sweepLockKey     = "voucherhub:settlement:sweep"
	defaultBatchSize = 200
	defaultLockTTL   = 10 * time.Minute
)

// SweepReport summarizes one pass over deferred payouts. Skipped is set when
// another instance held the sweep lock.
type SweepReport struct {
	Total    int  `json:"total"`
	Settled  int  `json:"settled"`
	Deferred int  `json:"deferred"`
	Failed   int  `json:"failed"`
	Skipped  bool `json:"skipped"`
}

type sweepOutcome int

const (
	outcomeSettled sweepOutcome = iota
	outcomeDeferred
	outcomeFailed
	outcomeGone
)

// Sweeper retries payouts that were deferred at redemption time.
type Sweeper struct {
	repo      voucher.Repository
	tm        driver.Transactor
	settler   *settler
	locker    lock.Locker
	lockTTL   time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewSweeper builds a sweeper. locker may be nil, in which case runs are not
// coordinated across instances.
func NewSweeper(
	cfg *config.Config,
	repo voucher.Repository,
	gateway processor.Gateway,
	tm driver.Transactor,
	locker lock.Locker,
	logger *zap.Logger,
) *Sweeper {
	ttl := cfg.Sweeper.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Sweeper{
		repo:      repo,
		tm:        tm,
		settler:   &settler{gateway: gateway, logger: logger},
		locker:    locker,
		lockTTL:   ttl,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	if s.locker != nil {
		l, err := s.locker.Obtain(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotObtained) {
				s.logger.Info("Sweep already running elsewhere, skipping")
				report.Skipped = true
				return report, nil
			}
			return nil, err
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	// Pages are keyed on (used_at, id); every deferred voucher is visited once
	// per pass, whatever happened to the ones before it.
	var after *models.Voucher
pages:
	for {
		deferred, err := s.repo.ListDeferred(ctx, after, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list deferred transfers: %w", err)
		}

		for _, v := range deferred {
			if err = ctx.Err(); err != nil {
				s.logger.Warn("Sweep interrupted", zap.Error(err), zap.Int("visited", report.Total))
				break pages
			}

			report.Total++
			outcome, err := s.retry(ctx, v.Code)
			if err != nil {
				s.logger.Error("Failed to retry deferred transfer", zap.Error(err), zap.String("voucher_code", v.Code))
				report.Failed++
				continue
			}

			switch outcome {
			case outcomeSettled:
				report.Settled++
			case outcomeDeferred:
				report.Deferred++
			case outcomeFailed:
				report.Failed++
			case outcomeGone:
				report.Total--
			}
		}

		if len(deferred) < s.batchSize {
			break
		}
		after = deferred[len(deferred)-1]
	}

	s.logger.Info("Deferred transfer sweep finished",
		zap.Int("total", report.Total),
		zap.Int("settled", report.Settled),
		zap.Int("deferred", report.Deferred),
		zap.Int("failed", report.Failed))

	return report, nil
}

// retry settles one voucher in its own transaction. Failures are recorded and
// committed; the voucher stays deferred.
func (s *Sweeper) retry(ctx context.Context, code string) (sweepOutcome, error) {
	var outcome sweepOutcome

	err := s.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		locked, err := s.repo.GetForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}
		if locked.TransferStatus != enum.TransferStatusDeferred {
			outcome = outcomeGone
			return nil
		}

		transfer, settlementErr := s.settler.transfer(ctx, locked)
		if settlementErr == nil {
			outcome = outcomeSettled
			s.logger.Info("Deferred transfer settled",
				zap.String("voucher_code", code),
				zap.String("transfer_id", transfer.ID),
				zap.Int64("amount", locked.PartnerShareAmount))
			return s.repo.MarkTransferSucceeded(ctx, tx, code, transfer.ID)
		}

		if settlementErr.Retryable {
			outcome = outcomeDeferred
			s.logger.Warn("Deferred transfer still lacks balance",
				zap.String("voucher_code", code),
				zap.Int64("amount", locked.PartnerShareAmount))
		} else {
			outcome = outcomeFailed
			s.logger.Error("Deferred transfer failed",
				zap.Error(settlementErr),
				zap.String("voucher_code", code),
				zap.String("stripe_code", settlementErr.Code))
		}

		return s.repo.RecordTransferFailure(ctx, tx, code, settlementErr.Error(), settlementErr.Definitive)
	})

	return outcome, err
}
