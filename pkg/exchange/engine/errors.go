package engine

import (
	"errors"

	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fill"
	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
)

var (
	ErrAssetMismatch                = errors.New("order assets do not match")
	ErrTakerMismatch                = errors.New("order is restricted to another taker")
	ErrNativePaymentNotAllowed      = errors.New("native currency must be paid by the caller")
	ErrInsufficientFundingForwarded = errors.New("insufficient native currency forwarded")
	ErrTransferFailed               = errors.New("transfer failed")
	ErrLedger                       = errors.New("fill ledger update failed")
)

// reasons is checked in order, so more specific causes come first
var reasons = []struct {
	err  error
	code string
}{
	{fill.ErrUnableToFillLeft, "UnableToFillLeft"},
	{fill.ErrUnableToFillRight, "UnableToFillRight"},
	{fill.ErrDivisionByZero, "DivisionByZero"},
	{fill.ErrRoundingError, "RoundingError"},
	{fill.ErrOverfilled, "Overfilled"},
	{ErrNativePaymentNotAllowed, "NativePaymentNotAllowed"},
	{ErrInsufficientFundingForwarded, "InsufficientFundingForwarded"},
	{auth.ErrInvalidSignature, "InvalidSignature"},
	{auth.ErrAllowanceExpired, "AllowanceExpired"},
	{auth.ErrAllowanceInvalid, "AllowanceInvalid"},
	{auth.ErrCallerUnauthenticated, "CallerUnauthenticated"},
	{fee.ErrFeeCeilingExceeded, "FeeCeilingExceeded"},
	{fee.ErrInvalidPayouts, "InvalidPayouts"},
	{order.ErrOrderNotStarted, "OrderNotStarted"},
	{order.ErrOrderExpired, "OrderExpired"},
	{order.ErrZeroValue, "ZeroValue"},
	{order.ErrUnknownDataType, "UnknownDataType"},
	{order.ErrOrderData, "InvalidOrderData"},
	{order.ErrPartValue, "InvalidOrderData"},
	{order.ErrAssetData, "InvalidAssetData"},
	{order.ErrAssetDataLength, "InvalidAssetData"},
	{ErrAssetMismatch, "AssetMismatch"},
	{ErrTakerMismatch, "TakerMismatch"},
	{transfer.ErrUnsupportedAsset, "UnsupportedAsset"},
	{ledger.ErrFillDecrease, "FillDecrease"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrLedger, "LedgerFailed"},
}

// Reason maps an error from Match to its stable reason code.
// Unknown errors map to "Internal"; nil maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return "Internal"
}
