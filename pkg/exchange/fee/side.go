package fee

import "github.com/uhyunpark/hyperswap/pkg/exchange/order"

// Side names the leg that carries fees
type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	}
	return "none"
}

var sidePriority = []order.AssetClass{
	order.ClassNative,
	order.ClassWrapped,
	order.ClassERC20,
	order.ClassERC1155,
}

// SideOf picks the fee leg from the left order's make and take classes.
// The most money-like asset pays fees: native, then wrapped native, then
// ERC20, then ERC1155. Two ERC721 or custom assets pay none.
func SideOf(leftMake, leftTake order.AssetClass) Side {
	for _, c := range sidePriority {
		if leftMake == c {
			return SideLeft
		}
		if leftTake == c {
			return SideRight
		}
	}
	return SideNone
}
