package grpcurl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestReflectionSupport_MapsUnimplementedToSentinel(t *testing.T) {
	err := reflectionSupport(status.Error(codes.Unimplemented, "reflection not enabled"))
	assert.ErrorIs(t, err, ErrReflectionNotSupported)
}

func TestReflectionSupport_PassesThroughOtherErrors(t *testing.T) {
	other := status.Error(codes.Unavailable, "connection reset")
	err := reflectionSupport(other)
	assert.Equal(t, other, err)
}

func TestReflectionSupport_PassesThroughNonStatusErrors(t *testing.T) {
	boom := errors.New("boom")
	err := reflectionSupport(boom)
	assert.Equal(t, boom, err)
}

func TestReflectionSupport_Nil(t *testing.T) {
	assert.NoError(t, reflectionSupport(nil))
}
