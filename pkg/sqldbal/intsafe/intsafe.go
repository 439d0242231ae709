// Package intsafe is a small set of checked conversions used anywhere the
// core turns an externally supplied size, count or port number into a
// narrower platform type. Each function returns an explicit error instead
// of wrapping or truncating silently.
package intsafe

import (
	"fmt"
	"math"
	"strconv"
)

// ErrOverflow is wrapped into every error this package returns.
var ErrOverflow = fmt.Errorf("intsafe: overflow")

// AddSize adds two non-negative sizes, reporting overflow rather than
// wrapping. It backs the PostgreSQL connection string builder's length
// arithmetic.
func AddSize(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative operand in AddSize(%d, %d)", ErrOverflow, a, b)
	}
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// MulSize multiplies two non-negative sizes, reporting overflow: the checked
// count-times-element-size computation of a realloc(nelem, size). No code in
// this module calls it.
func MulSize(nelem, size int) (int, error) {
	if nelem < 0 || size < 0 {
		return 0, fmt.Errorf("%w: negative operand in MulSize(%d, %d)", ErrOverflow, nelem, size)
	}
	if nelem == 0 || size == 0 {
		return 0, nil
	}
	product := nelem * size
	if product/nelem != size {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, nelem, size)
	}
	return product, nil
}

// Uint16FromString parses a decimal port string, rejecting values above
// 65535.
func Uint16FromString(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("intsafe: port %q: %w", s, err)
	}
	if n > math.MaxUint16 {
		return 0, fmt.Errorf("%w: port %d exceeds 65535", ErrOverflow, n)
	}
	return uint16(n), nil
}

// Uint64FromInt64 rejects a negative signed value rather than wrapping it
// into a huge unsigned one, used where the mysql and postgres adapters
// convert a backend's signed row id to the public uint64 last_insert_id
// surface (the sqlite adapter does its own negative check).
func Uint64FromInt64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: negative value %d has no unsigned representation", ErrOverflow, v)
	}
	return uint64(v), nil
}

// IntFromInt64 narrows an int64 to the platform int, reporting overflow on
// 32-bit platforms where int is narrower than int64. It backs the mysql
// adapter's server-reported max-column-length guard.
func IntFromInt64(v int64) (int, error) {
	if v < math.MinInt || v > math.MaxInt {
		return 0, fmt.Errorf("%w: %d does not fit in a platform int", ErrOverflow, v)
	}
	return int(v), nil
}
