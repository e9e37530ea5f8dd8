// Package directory reads and writes the billing attributes stored on an owner's identity record.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

var (
	ErrUserNotFound        = errors.New("directory user not found")
	ErrAttributeMissing    = errors.New("directory attribute missing")
	ErrAttributeDuplicated = errors.New("directory attribute duplicated")
)

// PaymentStatus is the billing state of an owner; the directory is its system of record.
type PaymentStatus string

const (
	StatusActive    PaymentStatus = "ACTIVE"
	StatusLapsed    PaymentStatus = "LAPSED"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
)

// Known reports whether s is one of the four billing states.
func (s PaymentStatus) Known() bool {
	switch s {
	case StatusActive, StatusLapsed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	AttrPaymentStatus     = "payment_status"
	AttrNumDapps          = "num_dapps"
	AttrStandardLimit     = "standard_limit"
	AttrProfessionalLimit = "professional_limit"
	AttrEnterpriseLimit   = "enterprise_limit"
)

// LimitAttributes are the quota attributes zeroed when an owner fails out.
var LimitAttributes = []string{AttrNumDapps, AttrStandardLimit, AttrProfessionalLimit, AttrEnterpriseLimit}

// Attribute is one name/value pair on an identity record. Records may carry the same
// name twice; readers treat that as an anomaly.
type Attribute struct {
	Name  string
	Value string
}

// Client is the identity directory backend.
type Client interface {
	GetUserAttributes(ctx context.Context, owner string) ([]Attribute, error)
	// UpdateUserAttributes writes attrs in one batch, leaving every other attribute untouched.
	UpdateUserAttributes(ctx context.Context, owner string, attrs []Attribute) error
}

// Gateway wraps a Client with retries and the status-specific helpers.
type Gateway struct {
	client Client
	exec   *retry.Executor
	logger *zap.Logger
}

func NewGateway(client Client, exec *retry.Executor, logger *zap.Logger) *Gateway {
	if client == nil {
		panic("directory client is required")
	}
	if exec == nil {
		panic("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{client: client, exec: exec, logger: logger}
}

// GetUser returns every attribute on the owner's record.
func (g *Gateway) GetUser(ctx context.Context, owner string) ([]Attribute, error) {
	return retry.Value(ctx, g.exec, "directory.GetUser", retry.Default, func(ctx context.Context) ([]Attribute, error) {
		attrs, err := g.client.GetUserAttributes(ctx, owner)
		if errors.Is(err, ErrUserNotFound) {
			return nil, retry.Permanent(err)
		}
		return attrs, err
	})
}

func (g *Gateway) update(ctx context.Context, owner string, attrs []Attribute) error {
	return g.exec.Do(ctx, "directory.UpdateUser", retry.Default, func(ctx context.Context) error {
		err := g.client.UpdateUserAttributes(ctx, owner, attrs)
		if errors.Is(err, ErrUserNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

// SetPaymentStatus writes the status attribute alone.
func (g *Gateway) SetPaymentStatus(ctx context.Context, owner string, status PaymentStatus) error {
	if err := g.update(ctx, owner, []Attribute{{Name: AttrPaymentStatus, Value: string(status)}}); err != nil {
		return fmt.Errorf("set payment status %s for %s: %w", status, owner, err)
	}
	return nil
}

// ZeroLimitsAndSetStatus writes the status and zeroes every quota attribute in one batch.
func (g *Gateway) ZeroLimitsAndSetStatus(ctx context.Context, owner string, status PaymentStatus) error {
	attrs := make([]Attribute, 0, len(LimitAttributes)+1)
	for _, name := range LimitAttributes {
		attrs = append(attrs, Attribute{Name: name, Value: "0"})
	}
	attrs = append(attrs, Attribute{Name: AttrPaymentStatus, Value: string(status)})

	g.logger.Info("zeroing limits",
		zap.String("owner_email", owner),
		zap.String("payment_status", string(status)),
	)
	if err := g.update(ctx, owner, attrs); err != nil {
		return fmt.Errorf("zero limits for %s: %w", owner, err)
	}
	return nil
}

func (g *Gateway) MarkActive(ctx context.Context, owner string) error {
	return g.SetPaymentStatus(ctx, owner, StatusActive)
}

func (g *Gateway) MarkLapsed(ctx context.Context, owner string) error {
	return g.SetPaymentStatus(ctx, owner, StatusLapsed)
}

func (g *Gateway) MarkFailed(ctx context.Context, owner string) error {
	return g.ZeroLimitsAndSetStatus(ctx, owner, StatusFailed)
}

func (g *Gateway) MarkCancelled(ctx context.Context, owner string) error {
	return g.ZeroLimitsAndSetStatus(ctx, owner, StatusCancelled)
}

// PaymentStatus reads the owner's status attribute. A missing or duplicated attribute is
// logged and reported as ErrAttributeMissing / ErrAttributeDuplicated; the raw value is
// returned unvalidated so callers decide what an unknown status means.
func (g *Gateway) PaymentStatus(ctx context.Context, owner string) (PaymentStatus, error) {
	attrs, err := g.GetUser(ctx, owner)
	if err != nil {
		return "", err
	}

	var found []string
	for _, a := range attrs {
		if a.Name == AttrPaymentStatus {
			found = append(found, a.Value)
		}
	}

	switch len(found) {
	case 0:
		g.logger.Warn("no payment_status attribute found", zap.String("owner_email", owner))
		return "", ErrAttributeMissing
	case 1:
		return PaymentStatus(found[0]), nil
	default:
		g.logger.Warn("multiple payment_status attributes found",
			zap.String("owner_email", owner),
			zap.Strings("values", found),
		)
		return "", ErrAttributeDuplicated
	}
}
