package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := Transient("transcribe", errors.New("rate limited"))
	assert.Equal(t, "transcribe: transient: rate limited", err.Error())

	err = Alignment("no diarization segments")
	assert.Equal(t, "align: alignment: no diarization segments", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	cause := errors.New("401 unauthorized")
	err := fmt.Errorf("diarize job-1: %w", Permanent("diarize", cause))

	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ReasonPermanentAdapter, ReasonCode(err))
}

func TestBareContextCancelIsCanceled(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", context.Canceled)
	assert.True(t, IsCanceled(err))
	assert.Equal(t, ReasonCanceled, ReasonCode(err))
}

func TestReasonCodes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Alignment("x"), ReasonAlignment},
		{Transient("op", errors.New("x")), ReasonTransientExhausted},
		{Invariant("x"), ReasonInvariant},
		{UnknownSession("s-1"), ReasonUnknownSession},
		{EmptyQuestion(), ReasonEmptyQuestion},
		{Canceled("op", context.Canceled), ReasonCanceled},
		{errors.New("plain"), ReasonInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonCode(tt.err), tt.err.Error())
	}
}

func TestNilKind(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	assert.True(t, IsTransient(FromHTTPStatus("stt", 429, "slow down")))
	assert.True(t, IsTransient(FromHTTPStatus("stt", 503, "unavailable")))
	assert.True(t, IsPermanent(FromHTTPStatus("stt", 401, "bad key")))
	assert.True(t, IsPermanent(FromHTTPStatus("stt", 415, "unsupported media")))
	assert.Contains(t, FromHTTPStatus("stt", 400, "boom").Error(), "http 400: boom")
}
