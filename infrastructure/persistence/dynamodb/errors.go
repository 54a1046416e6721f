package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Cancellation reason codes reported by TransactWriteItems.
const (
	reasonNone                   = "None"
	reasonConditionalCheckFailed = "ConditionalCheckFailed"
	reasonTransactionConflict    = "TransactionConflict"
)

var transientReasons = map[string]bool{
	reasonTransactionConflict:       true,
	"ThrottlingError":               true,
	"ProvisionedThroughputExceeded": true,
}

var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionConflictException":           true,
	"TransactionInProgressException":         true,
	"LimitExceededException":                 true,
}

// isTransient reports whether err is an outage or contention the caller may retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		transient := false
		for _, reason := range tce.CancellationReasons {
			code := aws.ToString(reason.Code)
			if code == reasonConditionalCheckFailed {
				return false
			}
			if transientReasons[code] {
				transient = true
			}
		}
		return transient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return true
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= 500 || status == 429 {
			return true
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// conditionError reports the transaction items whose conditions failed and those cancelled
// because a concurrent transaction held them.
type conditionError struct {
	operation string
	labels    []string
	contended []string
	cause     error
}

func (e *conditionError) Error() string {
	if len(e.contended) > 0 {
		return fmt.Sprintf("%s: conditions failed on [%s], contended [%s]",
			e.operation, strings.Join(e.labels, ", "), strings.Join(e.contended, ", "))
	}
	return fmt.Sprintf("%s: conditions failed on [%s]", e.operation, strings.Join(e.labels, ", "))
}

func (e *conditionError) Unwrap() error {
	return e.cause
}

// failed reports whether label is among the failed conditions.
func (e *conditionError) failed(label string) bool {
	for _, l := range e.labels {
		if l == label {
			return true
		}
	}
	return false
}

// only reports whether every failed condition is in allowed. Contended items are not failures.
func (e *conditionError) only(allowed ...string) bool {
	for _, l := range e.labels {
		found := false
		for _, a := range allowed {
			if l == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func asConditionError(err error) (*conditionError, bool) {
	var ce *conditionError
	ok := errors.As(err, &ce)
	return ce, ok
}
