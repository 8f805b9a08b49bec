package fill

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrRoundingError  = errors.New("rounding error")
)

var thousand = big.NewInt(1000)

// PartialFloor returns floor(numerator * target / denominator).
// It refuses results whose truncated remainder is 0.1% or more of the exact
// product, so an indivisible unit is never silently rounded away.
func PartialFloor(numerator, denominator, target *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if isRoundingError(numerator, denominator, target) {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrRoundingError, numerator, target, denominator)
	}
	out := new(big.Int).Mul(numerator, target)
	return out.Quo(out, denominator), nil
}

func isRoundingError(numerator, denominator, target *big.Int) bool {
	if target.Sign() == 0 || numerator.Sign() == 0 {
		return false
	}
	product := new(big.Int).Mul(target, numerator)
	remainder := new(big.Int).Rem(product, denominator)
	return remainder.Mul(remainder, thousand).Cmp(product) >= 0
}
