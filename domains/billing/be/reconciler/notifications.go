package reconciler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
)

// HandlePaymentStatus applies a billing notification for owner. The directory write and the
// ledger/queue side effects run concurrently and independently: if one fails the other still
// lands, and the periodic tick converges what is left. Unrecognized statuses are logged and
// ignored. Owners missing from the directory are logged and skipped without touching the
// ledger, since redelivering the notification cannot fix them.
func (r *Reconciler) HandlePaymentStatus(ctx context.Context, owner string, status directory.PaymentStatus) error {
	logger := r.logger.With(zap.String("owner_email", owner), zap.String("payment_status", string(status)))

	if !status.Known() {
		logger.Warn("unrecognized payment status notification, ignoring")
		return nil
	}
	if _, err := r.directory.GetUser(ctx, owner); err != nil {
		if isAnomaly(err) {
			logger.Warn("payment status notification for owner not in directory, skipping", zap.Error(err))
			return nil
		}
		logger.Error("read owner before payment status notification failed", zap.Error(err))
		return err
	}

	var err error
	switch status {
	case directory.StatusActive:
		err = fanout.Both(ctx,
			func(ctx context.Context) error {
				return skipAnomaly(logger, r.directory.SetPaymentStatus(ctx, owner, directory.StatusActive))
			},
			func(ctx context.Context) error { return r.ledger.DeleteLapsedUser(ctx, owner) },
		)
		r.tracker.SubscriptionRestored(owner)

	case directory.StatusLapsed:
		err = fanout.Both(ctx,
			func(ctx context.Context) error {
				return skipAnomaly(logger, r.directory.SetPaymentStatus(ctx, owner, directory.StatusLapsed))
			},
			func(ctx context.Context) error { return r.ledger.PutLapsedUser(ctx, owner) },
		)
		r.tracker.SubscriptionLapsed(owner)

	case directory.StatusFailed, directory.StatusCancelled:
		err = fanout.Both(ctx,
			func(ctx context.Context) error {
				return skipAnomaly(logger, r.directory.ZeroLimitsAndSetStatus(ctx, owner, status))
			},
			func(ctx context.Context) error {
				if err := r.dispatchOwnerDeletions(ctx, owner); err != nil {
					return err
				}
				return r.ledger.DeleteLapsedUser(ctx, owner)
			},
		)
		if status == directory.StatusCancelled {
			r.tracker.SubscriptionCancelled(owner)
		}
	}

	if err != nil {
		logger.Error("payment status notification partially applied", zap.Error(err))
		return err
	}
	logger.Info("payment status notification applied")
	return nil
}

// isAnomaly reports directory data problems that no retry or redelivery can repair.
func isAnomaly(err error) bool {
	return errors.Is(err, directory.ErrUserNotFound) ||
		errors.Is(err, directory.ErrAttributeMissing) ||
		errors.Is(err, directory.ErrAttributeDuplicated)
}

// skipAnomaly logs a directory anomaly and drops it so the notification is not redelivered.
func skipAnomaly(logger *zap.Logger, err error) error {
	if err != nil && isAnomaly(err) {
		logger.Warn("directory anomaly during payment status notification, skipping", zap.Error(err))
		return nil
	}
	return err
}
