package main

import (
	"errors"
	"testing"

	"github.com/dynrpc/grpcurl"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestExitFor_Success(t *testing.T) {
	assert.Equal(t, exitOK, exitFor(nil))
}

func TestExitFor_UsageError(t *testing.T) {
	assert.Equal(t, exitUsage, exitFor(&usageError{msg: "bad flags"}))
}

func TestExitFor_GrpcStatusError(t *testing.T) {
	stat := status.New(codes.NotFound, "nope")
	err := &grpcurl.GrpcStatusError{Status: stat}
	assert.Equal(t, exitStatusOffset+int(codes.NotFound), exitFor(err))
}

func TestExitFor_GeneralFailure(t *testing.T) {
	assert.Equal(t, exitFailure, exitFor(errors.New("boom")))
}

func TestFormatStatusForExit(t *testing.T) {
	stat := status.New(codes.Unavailable, "down")
	out := formatStatusForExit(stat)
	assert.Contains(t, out, "Unavailable")
	assert.Contains(t, out, "down")
}
