package requesttrace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	ctxTriggerInfo contextKey = "DAPPBOT_TRIGGER_TRACE"
)

// Source represents what invoked the worker.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceQueue  Source = "queue"
	SourceTicker Source = "ticker"
	SourceCLI    Source = "cli"
)

// TriggerInfo captures invocation-scoped metadata so every log line of one trigger can be
// correlated. Queue-triggered work has no caller to report to, so this id is the only handle
// an operator has on a failure.
type TriggerInfo struct {
	Source     Source
	TriggerID  string
	ReceivedAt time.Time
}

// IntoContext stores the TriggerInfo in the provided context.
func IntoContext(ctx context.Context, info TriggerInfo) context.Context {
	return context.WithValue(ctx, ctxTriggerInfo, info)
}

// FromContext extracts the TriggerInfo from context, returning false when not present.
func FromContext(ctx context.Context) (TriggerInfo, bool) {
	if ctx == nil {
		return TriggerInfo{}, false
	}
	v := ctx.Value(ctxTriggerInfo)
	if v == nil {
		return TriggerInfo{}, false
	}

	info, ok := v.(TriggerInfo)
	return info, ok
}

// New builds a TriggerInfo. An empty id is replaced with a random one.
func New(source Source, id string) TriggerInfo {
	if id == "" {
		id = uuid.NewString()
	}
	return TriggerInfo{Source: source, TriggerID: id, ReceivedAt: time.Now().UTC()}
}

// Fields renders the info as log fields.
func (t TriggerInfo) Fields() []zap.Field {
	return []zap.Field{
		zap.String("trigger_source", string(t.Source)),
		zap.String("trigger_id", t.TriggerID),
	}
}
