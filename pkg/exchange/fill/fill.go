package fill

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrUnableToFillLeft  = errors.New("unable to fill left order")
	ErrUnableToFillRight = errors.New("unable to fill right order")
	ErrOverfilled        = errors.New("recorded fill exceeds order size")
)

// Terms are one order's declared quantities and its recorded fill.
// MakeFill selects whether Fill counts make value given (true) or take value
// received (false, the default).
type Terms struct {
	Make     *big.Int
	Take     *big.Int
	Fill     *big.Int
	MakeFill bool
}

// Result holds the amounts each side gives in this match:
// LeftValue of the left make asset, RightValue of the right make asset.
type Result struct {
	LeftValue  *big.Int
	RightValue *big.Int
}

// Remaining converts the unfilled part of an order into (make, take) at the
// order's own ratio.
func Remaining(t Terms) (makeValue, takeValue *big.Int, err error) {
	fill := t.Fill
	if fill == nil {
		fill = new(big.Int)
	}
	if t.MakeFill {
		if fill.Cmp(t.Make) > 0 {
			return nil, nil, fmt.Errorf("%w: fill %s > make %s", ErrOverfilled, fill, t.Make)
		}
		makeValue = new(big.Int).Sub(t.Make, fill)
		takeValue, err = PartialFloor(t.Take, t.Make, makeValue)
		return makeValue, takeValue, err
	}
	if fill.Cmp(t.Take) > 0 {
		return nil, nil, fmt.Errorf("%w: fill %s > take %s", ErrOverfilled, fill, t.Take)
	}
	takeValue = new(big.Int).Sub(t.Take, fill)
	makeValue, err = PartialFloor(t.Make, t.Take, takeValue)
	return makeValue, takeValue, err
}

// Match computes how much each side gives. The side whose remaining capacity
// is smaller is filled completely; the other side's amount is derived from
// the counter-order's ratio, so the right (maker) order never gets less than
// its own price.
func Match(left, right Terms) (Result, error) {
	leftMake, leftTake, err := Remaining(left)
	if err != nil {
		return Result{}, fmt.Errorf("left: %w", err)
	}
	rightMake, rightTake, err := Remaining(right)
	if err != nil {
		return Result{}, fmt.Errorf("right: %w", err)
	}

	var res Result
	if rightTake.Cmp(leftMake) > 0 {
		res, err = fillLeft(leftMake, leftTake, right.Make, right.Take)
	} else {
		res, err = fillRight(left.Make, left.Take, rightMake, rightTake)
	}
	if err != nil {
		return Result{}, err
	}

	if res.LeftValue.Sign() == 0 {
		return Result{}, ErrUnableToFillLeft
	}
	if res.RightValue.Sign() == 0 {
		return Result{}, ErrUnableToFillRight
	}
	return res, nil
}

// fillLeft fills the whole remaining left order at the right order's price
func fillLeft(leftMake, leftTake, rightMake, rightTake *big.Int) (Result, error) {
	needed, err := PartialFloor(leftTake, rightMake, rightTake)
	if err != nil {
		return Result{}, err
	}
	if needed.Cmp(leftMake) > 0 {
		return Result{}, fmt.Errorf("%w: needs %s, offers %s", ErrUnableToFillLeft, needed, leftMake)
	}
	return Result{LeftValue: new(big.Int).Set(leftMake), RightValue: new(big.Int).Set(leftTake)}, nil
}

// fillRight fills the whole remaining right order, paying at the left price
func fillRight(leftMake, leftTake, rightMake, rightTake *big.Int) (Result, error) {
	makerValue, err := PartialFloor(rightTake, leftMake, leftTake)
	if err != nil {
		return Result{}, err
	}
	if makerValue.Cmp(rightMake) > 0 {
		return Result{}, fmt.Errorf("%w: needs %s, offers %s", ErrUnableToFillRight, makerValue, rightMake)
	}
	return Result{LeftValue: new(big.Int).Set(rightTake), RightValue: makerValue}, nil
}

// NewFills returns the fill values to record after res is settled.
// Take-fill orders add what they received, make-fill orders what they gave.
func NewFills(left, right Terms, res Result) (newLeft, newRight *big.Int) {
	newLeft = add(left.Fill, res.RightValue)
	if left.MakeFill {
		newLeft = add(left.Fill, res.LeftValue)
	}
	newRight = add(right.Fill, res.LeftValue)
	if right.MakeFill {
		newRight = add(right.Fill, res.RightValue)
	}
	return newLeft, newRight
}

func add(a, b *big.Int) *big.Int {
	out := new(big.Int)
	if a != nil {
		out.Set(a)
	}
	return out.Add(out, b)
}
