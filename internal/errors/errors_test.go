package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewTransientStore("bulk write failed", fmt.Errorf("connection reset"))
	assert.Equal(t, "TRANSIENT_STORE: bulk write failed: connection reset", err.Error())

	err = NewInvalidRecord("missing field 'title'")
	assert.Equal(t, "INVALID_RECORD: missing field 'title'", err.Error())
}

func TestWrap_PreservesType(t *testing.T) {
	wrapped := Wrap(NewInvalidRecord("missing field"), "build operation")
	assert.True(t, IsInvalidRecord(wrapped))
	assert.Contains(t, wrapped.Error(), "build operation: missing field")

	foreign := Wrap(errors.New("boom"), "flush")
	assert.True(t, IsInternal(foreign))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestTypeOf_FollowsWrapChain(t *testing.T) {
	err := fmt.Errorf("attempt 2: %w", NewTransientStore("write", errors.New("timeout")))
	assert.True(t, IsTransientStore(err))
	assert.False(t, IsInvalidRecord(err))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient store", err: NewTransientStore("write", errors.New("reset")), want: true},
		{name: "invalid record", err: NewInvalidRecord("no key"), want: false},
		{name: "validation", err: NewValidation("bad"), want: false},
		{name: "context canceled", err: fmt.Errorf("wait: %w", context.Canceled), want: false},
		{name: "throughput exceeded", err: &types.ProvisionedThroughputExceededException{}, want: true},
		{name: "internal server error", err: fmt.Errorf("put: %w", &types.InternalServerError{}), want: true},
		{name: "throttling api code", err: &smithy.GenericAPIError{Code: "Throttling"}, want: true},
		{name: "access denied api code", err: &smithy.GenericAPIError{Code: "AccessDeniedException"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
