package sqldbal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInvalidParameter, "invalid-parameter"},
		{StatusOutOfMemory, "out-of-memory"},
		{StatusDriverNotSupported, "driver-not-supported"},
		{Status(999), "invalid-parameter"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.status.String())
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusOK, normalizeStatus(StatusOK))
	assert.Equal(t, StatusCloseFailed, normalizeStatus(StatusCloseFailed))
	assert.Equal(t, StatusInvalidParameter, normalizeStatus(Status(-1)))
	assert.Equal(t, StatusInvalidParameter, normalizeStatus(statusUpperBound))
}

func TestStatusErrorCarriesStatus(t *testing.T) {
	err := newStatusError(StatusOverflow, "too big: %d", 42)
	assert.EqualError(t, err, "too big: 42")
	assert.Equal(t, StatusOverflow, resolveStatus(StatusExecFailed, err))
}

func TestResolveStatusFallsBackForPlainError(t *testing.T) {
	assert.Equal(t, StatusExecFailed, resolveStatus(StatusExecFailed, assertErr("boom")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
