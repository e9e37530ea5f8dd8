package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// QueueAPI is the slice of the SQS client the dispatcher needs.
type QueueAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeletionRequest is the envelope the deletion consumer expects.
type DeletionRequest struct {
	Method       string `json:"method"`
	ResourceName string `json:"resourceName"`
}

// Dispatcher enqueues one deletion message per dapp. The consumer treats deleting an
// already deleted dapp as a no-op, so re-dispatching is safe.
type Dispatcher struct {
	queue    QueueAPI
	queueURL string
	exec     *retry.Executor
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(queue QueueAPI, queueURL string, exec *retry.Executor, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if exec == nil {
		panic("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, queueURL: queueURL, exec: exec, metrics: m, logger: logger}
}

// DispatchDeletions sends every message concurrently and joins the failures.
func (d *Dispatcher) DispatchDeletions(ctx context.Context, names []string) error {
	return fanout.All(ctx, 0, names, d.dispatch)
}

func (d *Dispatcher) dispatch(ctx context.Context, name string) error {
	body, err := json.Marshal(DeletionRequest{Method: "delete", ResourceName: name})
	if err != nil {
		return err
	}
	err = d.exec.Do(ctx, "sqs.SendMessage", retry.Default, func(ctx context.Context) error {
		_, err := d.queue.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(d.queueURL),
			MessageBody: aws.String(string(body)),
		})
		return err
	})
	if err != nil {
		d.logger.Error("deletion dispatch failed", zap.String("dapp_name", name), zap.Error(err))
		return fmt.Errorf("dispatch deletion of %s: %w", name, err)
	}
	d.metrics.DeletionDispatched()
	d.logger.Info("deletion dispatched", zap.String("dapp_name", name))
	return nil
}
