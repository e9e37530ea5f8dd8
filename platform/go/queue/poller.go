// Package queue long-polls the inbound SQS queue and hands each body to a handler.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/dappbot-ops/platform/go/logging"
	"github.com/zenGate-Global/dappbot-ops/platform/go/requesttrace"
)

const (
	waitTimeSeconds = 20
	maxMessages     = 10
	errorPause      = 5 * time.Second
)

// API is the slice of the SQS client the poller needs.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// HandlerFunc processes one message body. A nil error acknowledges the message; any error
// leaves it on the queue for redelivery.
type HandlerFunc func(ctx context.Context, body []byte) error

type Poller struct {
	api      API
	queueURL string
	handle   HandlerFunc
	logger   *zap.Logger
	pause    time.Duration
}

func NewPoller(api API, queueURL string, handle HandlerFunc, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{api: api, queueURL: queueURL, handle: handle, logger: logger, pause: errorPause}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling inbound queue", zap.String("queue_url", p.queueURL))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := p.PollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			p.logger.Error("receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.pause):
			}
		}
	}
}

// PollOnce receives one batch and processes it sequentially. It returns how many
// messages were acknowledged.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	out, err := p.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitTimeSeconds,
	})
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, msg := range out.Messages {
		id := aws.ToString(msg.MessageId)
		trigger := requesttrace.New(requesttrace.SourceQueue, id)
		logger := p.logger.With(trigger.Fields()...)
		msgCtx := platformlogging.WithLogger(requesttrace.IntoContext(ctx, trigger), logger)

		if err := p.handle(msgCtx, []byte(aws.ToString(msg.Body))); err != nil {
			logger.Warn("message left for redelivery", zap.Error(err))
			continue
		}
		if _, err := p.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			logger.Error("acknowledge failed", zap.Error(err))
			continue
		}
		acked++
	}
	return acked, nil
}
