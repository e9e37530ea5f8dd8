package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

func newTestGateway(t *testing.T, client Client) (*Gateway, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	exec := retry.New(retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	return NewGateway(client, exec, zap.New(core)), logs
}

func TestPaymentStatusReadsSingleAttribute(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("a@x.com", Attribute{Name: AttrPaymentStatus, Value: "LAPSED"}, Attribute{Name: AttrNumDapps, Value: "3"})
	gw, _ := newTestGateway(t, client)

	status, err := gw.PaymentStatus(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Equal(t, StatusLapsed, status)
}

func TestPaymentStatusAnomaliesAreLoggedNotFatal(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("missing@x.com", Attribute{Name: AttrNumDapps, Value: "1"})
	client.Seed("dup@x.com",
		Attribute{Name: AttrPaymentStatus, Value: "ACTIVE"},
		Attribute{Name: AttrPaymentStatus, Value: "LAPSED"},
	)
	gw, logs := newTestGateway(t, client)
	ctx := context.Background()

	_, err := gw.PaymentStatus(ctx, "missing@x.com")
	require.ErrorIs(t, err, ErrAttributeMissing)
	require.Equal(t, 1, logs.FilterMessage("no payment_status attribute found").Len())

	_, err = gw.PaymentStatus(ctx, "dup@x.com")
	require.ErrorIs(t, err, ErrAttributeDuplicated)
	require.Equal(t, 1, logs.FilterMessage("multiple payment_status attributes found").Len())
}

func TestUnknownUserIsNotRetried(t *testing.T) {
	gw, _ := newTestGateway(t, NewMemoryClient())

	_, err := gw.GetUser(context.Background(), "ghost@x.com")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Equal(t, 1, retry.Attempts(err))
}

func TestMarkFailedZeroesEveryLimit(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("a@x.com",
		Attribute{Name: AttrPaymentStatus, Value: "LAPSED"},
		Attribute{Name: AttrNumDapps, Value: "2"},
		Attribute{Name: AttrStandardLimit, Value: "5"},
		Attribute{Name: AttrProfessionalLimit, Value: "1"},
		Attribute{Name: AttrEnterpriseLimit, Value: "0"},
		Attribute{Name: "given_name", Value: "Ada"},
	)
	gw, _ := newTestGateway(t, client)

	require.NoError(t, gw.MarkFailed(context.Background(), "a@x.com"))
	require.Equal(t, 1, client.Updates("a@x.com"))

	status, _ := client.Value("a@x.com", AttrPaymentStatus)
	require.Equal(t, "FAILED", status)
	for _, name := range LimitAttributes {
		v, ok := client.Value("a@x.com", name)
		require.True(t, ok, name)
		require.Equal(t, "0", v, name)
	}
	v, _ := client.Value("a@x.com", "given_name")
	require.Equal(t, "Ada", v)
}

func TestMarkActiveRetriesTransientFailures(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("b@x.com", Attribute{Name: AttrPaymentStatus, Value: "LAPSED"}, Attribute{Name: AttrNumDapps, Value: "4"})
	client.FailUpdates = 2
	client.Err = errors.New("unavailable")
	gw, _ := newTestGateway(t, client)

	require.NoError(t, gw.MarkActive(context.Background(), "b@x.com"))
	status, _ := client.Value("b@x.com", AttrPaymentStatus)
	require.Equal(t, "ACTIVE", status)
	limit, _ := client.Value("b@x.com", AttrNumDapps)
	require.Equal(t, "4", limit)
}

func TestUpdateCollapsesDuplicatedAttribute(t *testing.T) {
	client := NewMemoryClient()
	client.Seed("dup@x.com",
		Attribute{Name: AttrPaymentStatus, Value: "ACTIVE"},
		Attribute{Name: AttrPaymentStatus, Value: "LAPSED"},
	)
	gw, _ := newTestGateway(t, client)
	ctx := context.Background()

	require.NoError(t, gw.MarkCancelled(ctx, "dup@x.com"))
	status, err := gw.PaymentStatus(ctx, "dup@x.com")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, status)
}

func TestPaymentStatusKnown(t *testing.T) {
	for _, s := range []PaymentStatus{StatusActive, StatusLapsed, StatusFailed, StatusCancelled} {
		require.True(t, s.Known(), s)
	}
	require.False(t, PaymentStatus("TRIALING").Known())
	require.False(t, PaymentStatus("").Known())
}

func TestMergeClaimsKeepsUnrelatedClaims(t *testing.T) {
	existing := map[string]interface{}{"admin": true, AttrNumDapps: float64(3)}
	merged := mergeClaims(existing, []Attribute{{Name: AttrNumDapps, Value: "0"}, {Name: AttrPaymentStatus, Value: "FAILED"}})

	require.Equal(t, true, merged["admin"])
	require.Equal(t, "0", merged[AttrNumDapps])
	require.Equal(t, "FAILED", merged[AttrPaymentStatus])
	require.Equal(t, float64(3), existing[AttrNumDapps])

	attrs := claimsToAttributes(merged)
	require.Equal(t, []Attribute{
		{Name: "admin", Value: "true"},
		{Name: AttrNumDapps, Value: "0"},
		{Name: AttrPaymentStatus, Value: "FAILED"},
	}, attrs)
}
