package errors

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// retryableCodes are API error codes that indicate a transient fault.
var retryableCodes = map[string]bool{
	"ServiceUnavailable":                     true,
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestTimeout":                         true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"InternalServerError":                    true,
	"TransactionConflictException":           true,
}

// IsRetryable reports whether a failed store call may be attempted again.
// Invalid records, validation failures and context cancellation are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch TypeOf(err) {
	case ErrorTypeInvalidRecord, ErrorTypeValidation:
		return false
	case ErrorTypeTransientStore:
		return true
	}

	return isAWSRetryableError(err)
}

// isAWSRetryableError checks if an AWS error is retryable
func isAWSRetryableError(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var requestLimit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	var collectionSize *types.ItemCollectionSizeLimitExceededException
	var limit *types.LimitExceededException
	switch {
	case errors.As(err, &throughput),
		errors.As(err, &requestLimit),
		errors.As(err, &internal),
		errors.As(err, &collectionSize),
		errors.As(err, &limit):
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.ErrorCode()]
	}

	return false
}
