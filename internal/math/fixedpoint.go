package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

// AmountConfig is the precision of every stake, fee and payout: 1 coin = 1e9 units.
var AmountConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000}

// int128Pool holds scratch big.Ints for products that overflow int64.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulDivFloor returns floor(a * b / c) for non-negative a, b and positive c.
// The product is taken at full width; the quotient must fit in int64.
// Every payout is floored so the pool can never be over-drawn.
func MulDivFloor(a, b, c int64) int64 {
	product := getInt128()
	quotient := getInt128()
	defer putInt128(product)
	defer putInt128(quotient)

	product.Mul(big.NewInt(a), big.NewInt(b))
	quotient.Quo(product, big.NewInt(c))
	return quotient.Int64()
}
