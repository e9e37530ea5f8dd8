package events

import (
	"encoding/json"
	"fmt"
)

const (
	CommandCleanup     = "cleanup"
	EventPaymentStatus = "payment-status"
)

// Message is one of CleanupCommand or PaymentStatusEvent.
type Message interface {
	Kind() string
}

// CleanupCommand runs one reconciliation tick plus distribution garbage collection.
type CleanupCommand struct {
	Command string `json:"command"`
}

func (CleanupCommand) Kind() string { return CommandCleanup }

// PaymentStatusEvent is a billing notification for one owner. Status is passed through
// unvalidated; the reconciler decides what an unknown value means.
type PaymentStatusEvent struct {
	Event  string `json:"event"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

func (PaymentStatusEvent) Kind() string { return EventPaymentStatus }

// DecodeMessage parses a queue or notification body keyed by its command or event field.
func DecodeMessage(payload []byte) (Message, error) {
	var tag struct {
		Command *string `json:"command"`
		Event   *string `json:"event"`
	}
	if err := json.Unmarshal(payload, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch {
	case tag.Command != nil && tag.Event != nil:
		return nil, fmt.Errorf("%w: both command and event set", ErrUnrecognized)
	case tag.Command != nil && *tag.Command == CommandCleanup:
		var m CleanupCommand
		if err := decode("cleanup-command.json", payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tag.Event != nil && *tag.Event == EventPaymentStatus:
		var m PaymentStatusEvent
		if err := decode("payment-status-event.json", payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tag.Command != nil:
		return nil, fmt.Errorf("%w: command %q", ErrUnrecognized, *tag.Command)
	case tag.Event != nil:
		return nil, fmt.Errorf("%w: event %q", ErrUnrecognized, *tag.Event)
	default:
		return nil, fmt.Errorf("%w: no command or event field", ErrUnrecognized)
	}
}
