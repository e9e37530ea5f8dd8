package notify

import (
	"github.com/segmentio/analytics-go/v3"
	"go.uber.org/zap"
)

const (
	EventSubscriptionLapsed    = "Subscription Lapsed"
	EventSubscriptionCancelled = "Subscription Cancelled"
	EventSubscriptionRestored  = "Subscription Restored"
)

// Segment emits subscription lifecycle events. Enqueue is fire-and-forget; delivery
// errors surface through the client callback and are only logged.
type Segment struct {
	client analytics.Client
	apiURL string
	logger *zap.Logger
}

// NewSegment returns a tracker, or a disabled one when writeKey is empty.
func NewSegment(writeKey, apiURL string, logger *zap.Logger) (*Segment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Segment{apiURL: apiURL, logger: logger}
	if writeKey == "" {
		return s, nil
	}

	client, err := analytics.NewWithConfig(writeKey, analytics.Config{
		BatchSize: 1,
		Callback:  segmentCallback{logger: logger},
	})
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

func (s *Segment) SubscriptionLapsed(email string)    { s.track(EventSubscriptionLapsed, email) }
func (s *Segment) SubscriptionCancelled(email string) { s.track(EventSubscriptionCancelled, email) }
func (s *Segment) SubscriptionRestored(email string)  { s.track(EventSubscriptionRestored, email) }

func (s *Segment) track(event, email string) {
	if s == nil || s.client == nil {
		return
	}
	err := s.client.Enqueue(analytics.Track{
		UserId:     email,
		Event:      event,
		Properties: analytics.NewProperties().Set("apiUrl", s.apiURL).Set("email", email),
	})
	if err != nil {
		s.logger.Warn("analytics enqueue failed", zap.String("event", event), zap.String("owner_email", email), zap.Error(err))
	}
}

// Close flushes pending events.
func (s *Segment) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type segmentCallback struct{ logger *zap.Logger }

func (c segmentCallback) Success(analytics.Message) {}

func (c segmentCallback) Failure(m analytics.Message, err error) {
	c.logger.Warn("analytics delivery failed", zap.Error(err))
}
