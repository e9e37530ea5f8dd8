package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/reconciler"
	"github.com/zenGate-Global/dappbot-ops/domains/distributions/be/gc"
	"github.com/zenGate-Global/dappbot-ops/platform/go/events"
	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
	platformlogging "github.com/zenGate-Global/dappbot-ops/platform/go/logging"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
)

// Outcome of one pipeline-job trigger.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (reconciler.Report, error)
	HandlePaymentStatus(ctx context.Context, owner string, status directory.PaymentStatus) error
}

type Collector interface {
	Run(ctx context.Context) (gc.Report, error)
}

type Completer interface {
	Run(ctx context.Context, job events.PipelineJob) error
	FailJob(ctx context.Context, jobID string, cause error) error
}

// Handler maps decoded triggers onto the reconciler, the garbage collector and the job completer.
type Handler struct {
	reconciler Reconciler
	collector  Collector
	completer  Completer
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New constructs a Handler instance.
func New(r Reconciler, c Collector, j Completer, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if r == nil || c == nil || j == nil {
		panic("reconciler, collector and completer are required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{reconciler: r, collector: c, completer: j, metrics: m, logger: logger, now: time.Now}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	return platformlogging.FromContext(ctx, h.logger)
}

// CleanupResult pairs the two independent halves of a cleanup tick.
type CleanupResult struct {
	Reconcile reconciler.Report
	GC        gc.Report
}

// Cleanup runs one reconciliation tick and one distribution collection concurrently.
// The error joins whichever half could not run at all; per-item failures stay in the reports.
func (h *Handler) Cleanup(ctx context.Context) (CleanupResult, error) {
	h.metrics.Trigger("cleanup")
	var res CleanupResult
	err := fanout.Both(ctx,
		func(ctx context.Context) error {
			var err error
			res.Reconcile, err = h.reconciler.Reconcile(ctx, h.now())
			return err
		},
		func(ctx context.Context) error {
			var err error
			res.GC, err = h.collector.Run(ctx)
			return err
		},
	)
	if err != nil {
		h.loggerFrom(ctx).Error("cleanup failed", zap.Error(err))
	}
	return res, err
}

// PipelineJob decodes and runs a pipeline job. Job failures are reported to the pipeline and
// logged by the completer, so the caller only sees the outcome. Jobs of an unknown type are
// logged and ignored. Other payloads that cannot be decoded still fail the job when its id is
// known; an error is returned only if that report fails.
func (h *Handler) PipelineJob(ctx context.Context, payload []byte) (Outcome, error) {
	h.metrics.Trigger("pipeline-job")
	logger := h.loggerFrom(ctx)

	jobID, job, err := events.DecodePipelineEvent(payload)
	if errors.Is(err, events.ErrUnrecognized) {
		h.metrics.Trigger("ignored")
		logger.Warn("ignoring pipeline job of unknown type", zap.String("job_id", jobID), zap.Error(err))
		return OutcomeIgnored, nil
	}
	if err != nil {
		logger.Warn("undecodable pipeline job", zap.String("job_id", jobID), zap.Error(err))
		if jobID == "" {
			return OutcomeIgnored, nil
		}
		if ferr := h.completer.FailJob(ctx, jobID, err); ferr != nil {
			return OutcomeFailed, ferr
		}
		return OutcomeFailed, nil
	}

	if err := h.completer.Run(ctx, job); err != nil {
		return OutcomeFailed, nil
	}
	return OutcomeCompleted, nil
}

// Message decodes a queue or notification body and applies it. Unrecognized or invalid
// bodies are logged and dropped; a returned error means the message should be redelivered.
func (h *Handler) Message(ctx context.Context, payload []byte) error {
	logger := h.loggerFrom(ctx)

	msg, err := events.DecodeMessage(payload)
	if errors.Is(err, events.ErrUnrecognized) || errors.Is(err, events.ErrInvalid) {
		h.metrics.Trigger("ignored")
		logger.Warn("ignoring message", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case events.CleanupCommand:
		_, err := h.Cleanup(ctx)
		return err
	case events.PaymentStatusEvent:
		h.metrics.Trigger("payment-status")
		return h.reconciler.HandlePaymentStatus(ctx, m.Email, directory.PaymentStatus(m.Status))
	default:
		logger.Warn("ignoring message", zap.String("kind", msg.Kind()))
		return nil
	}
}
