package intsafe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSize(t *testing.T) {
	sum, err := AddSize(3, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, sum)

	_, err = AddSize(-1, 2)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = AddSize(math.MaxInt, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulSize(t *testing.T) {
	product, err := MulSize(6, 7)
	require.NoError(t, err)
	assert.Equal(t, 42, product)

	zero, err := MulSize(0, 99)
	require.NoError(t, err)
	assert.Equal(t, 0, zero)

	_, err = MulSize(math.MaxInt, 2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUint16FromString(t *testing.T) {
	port, err := Uint16FromString("5432")
	require.NoError(t, err)
	assert.Equal(t, uint16(5432), port)

	_, err = Uint16FromString("65536")
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Uint16FromString("not-a-number")
	require.Error(t, err)
}

func TestUint64FromInt64(t *testing.T) {
	v, err := Uint64FromInt64(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = Uint64FromInt64(-1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestIntFromInt64(t *testing.T) {
	v, err := IntFromInt64(12345)
	require.NoError(t, err)
	assert.Equal(t, 12345, v)
}
