package retry

import (
	"context"
	"errors"
	"net/http"

	"firebase.google.com/go/v4/errorutils"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/api/googleapi"
)

// throttleCodes are AWS error codes that signal rate limiting or a transient service state,
// even when the SDK reports them as client faults.
var throttleCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"ThrottledException":                     {},
	"RequestThrottled":                       {},
	"RequestThrottledException":              {},
	"TooManyRequestsException":               {},
	"RequestLimitExceeded":                   {},
	"BandwidthLimitExceeded":                 {},
	"LimitExceededException":                 {},
	"ProvisionedThroughputExceededException": {},
	"PriorRequestNotComplete":                {},
	"SlowDown":                               {},
	"RequestTimeout":                         {},
	"RequestTimeoutException":                {},
	"ServiceUnavailable":                     {},
	"InternalError":                          {},
}

// retryableSQLStates are SQLSTATE classes (first two characters) worth another attempt:
// connection exceptions, transaction rollbacks, insufficient resources and operator intervention.
var retryableSQLStates = map[string]struct{}{
	"08": {},
	"40": {},
	"53": {},
	"57": {},
}

// IsRetryable reports whether err looks transient. Unknown errors are retried; validation,
// not-found and permission failures from the remote APIs are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := throttleCodes[apiErr.ErrorCode()]; ok {
			return true
		}
		return apiErr.ErrorFault() != smithy.FaultClient
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusTooManyRequests || gErr.Code >= http.StatusInternalServerError
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		_, ok := retryableSQLStates[pgErr.Code[:2]]
		return ok
	}

	switch {
	case errorutils.IsUnavailable(err), errorutils.IsInternal(err), errorutils.IsResourceExhausted(err), errorutils.IsDeadlineExceeded(err):
		return true
	case errorutils.IsInvalidArgument(err), errorutils.IsNotFound(err), errorutils.IsPermissionDenied(err), errorutils.IsUnauthenticated(err):
		return false
	}

	return true
}
