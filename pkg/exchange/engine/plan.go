package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fill"
	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
)

// party is one validated order of the pair
type party struct {
	order *order.Order
	key   common.Hash
	data  order.Data
	fill  *big.Int
	auth  string
}

func (p party) terms() fill.Terms {
	return fill.Terms{
		Make:     p.order.MakeAsset.Value,
		Take:     p.order.TakeAsset.Value,
		Fill:     p.fill,
		MakeFill: p.data.IsMakeFill,
	}
}

// leg is value moving from one maker to the other side
type leg struct {
	asset         order.AssetType
	payer         common.Address
	direction     record.Direction
	disbursements []fee.Disbursement
}

type plan struct {
	caller common.Address
	value  *big.Int

	left, right party
	res         fill.Result
	newLeft     *big.Int
	newRight    *big.Int

	feeSide fee.Side
	legs    []leg // dispatch order: fee leg first
	native  *big.Int
	refund  *big.Int

	records []record.Transfer
}

func (p *plan) updates() []ledger.Update {
	var out []ledger.Update
	if !p.left.order.IsOneShot() {
		out = append(out, ledger.Update{Key: p.left.key, Amount: p.newLeft})
	}
	if !p.right.order.IsOneShot() {
		out = append(out, ledger.Update{Key: p.right.key, Amount: p.newRight})
	}
	return out
}

// prepare runs every check and computes the full settlement without side effects
func (e *Engine) prepare(req Request, now time.Time) (*plan, error) {
	p := &plan{caller: req.Caller, value: new(big.Int)}
	if req.Value != nil {
		if req.Value.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative value %s", ErrInsufficientFundingForwarded, req.Value)
		}
		p.value.Set(req.Value)
	}

	var err error
	if p.left, err = e.party(&req.Left.Order, now); err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	if p.right, err = e.party(&req.Right.Order, now); err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	lo, ro := p.left.order, p.right.order

	if !lo.MakeAsset.Type.Equal(ro.TakeAsset.Type) || !lo.TakeAsset.Type.Equal(ro.MakeAsset.Type) {
		return nil, fmt.Errorf("%w: left %s/%s, right %s/%s", ErrAssetMismatch,
			lo.MakeAsset.Type.Class, lo.TakeAsset.Type.Class, ro.MakeAsset.Type.Class, ro.TakeAsset.Type.Class)
	}
	if lo.Taker != (common.Address{}) && lo.Taker != ro.Maker {
		return nil, fmt.Errorf("%w: left order wants %s", ErrTakerMismatch, lo.Taker.Hex())
	}
	if ro.Taker != (common.Address{}) && ro.Taker != lo.Maker {
		return nil, fmt.Errorf("%w: right order wants %s", ErrTakerMismatch, ro.Taker.Hex())
	}
	for _, c := range []order.AssetClass{lo.MakeAsset.Type.Class, ro.MakeAsset.Type.Class} {
		if !e.router.Supports(c) {
			return nil, fmt.Errorf("%w: %s", transfer.ErrUnsupportedAsset, c)
		}
	}

	strategy, err := e.validator.Authorize(lo, p.left.key, req.Caller, req.Left.evidence())
	if err != nil {
		return nil, fmt.Errorf("left: %w", err)
	}
	p.left.auth = strategy.Name()
	if strategy, err = e.validator.Authorize(ro, p.right.key, req.Caller, req.Right.evidence()); err != nil {
		return nil, fmt.Errorf("right: %w", err)
	}
	p.right.auth = strategy.Name()

	leftNative := lo.MakeAsset.Type.Class == order.ClassNative
	rightNative := ro.MakeAsset.Type.Class == order.ClassNative
	switch {
	case leftNative && rightNative:
		return nil, fmt.Errorf("%w: both sides pay native currency", ErrNativePaymentNotAllowed)
	case leftNative && lo.Maker != req.Caller:
		return nil, fmt.Errorf("%w: left maker %s", ErrNativePaymentNotAllowed, lo.Maker.Hex())
	case rightNative && ro.Maker != req.Caller:
		return nil, fmt.Errorf("%w: right maker %s", ErrNativePaymentNotAllowed, ro.Maker.Hex())
	}

	if p.left.fill, err = e.currentFill(p.left); err != nil {
		return nil, err
	}
	if p.right.fill, err = e.currentFill(p.right); err != nil {
		return nil, err
	}
	if p.res, err = fill.Match(p.left.terms(), p.right.terms()); err != nil {
		return nil, err
	}
	p.newLeft, p.newRight = fill.NewFills(p.left.terms(), p.right.terms(), p.res)

	if err := e.price(p); err != nil {
		return nil, err
	}

	p.native = new(big.Int)
	for _, l := range p.legs {
		if l.asset.Class == order.ClassNative {
			p.native.Add(p.native, fee.Sum(l.disbursements))
		}
	}
	if p.value.Cmp(p.native) < 0 {
		return nil, fmt.Errorf("%w: needs %s, got %s", ErrInsufficientFundingForwarded, p.native, p.value)
	}
	p.refund = new(big.Int).Sub(p.value, p.native)
	return p, nil
}

func (e *Engine) party(o *order.Order, now time.Time) (party, error) {
	if err := o.ValidateValues(); err != nil {
		return party{}, err
	}
	if err := o.ValidateWindow(now); err != nil {
		return party{}, err
	}
	data, err := o.DecodedData()
	if err != nil {
		return party{}, err
	}
	key, err := e.hasher.Key(o)
	if err != nil {
		return party{}, err
	}
	return party{order: o, key: key, data: data}, nil
}

// currentFill reads the ledger; one-shot orders are never tracked
func (e *Engine) currentFill(p party) (*big.Int, error) {
	if p.order.IsOneShot() {
		return new(big.Int), nil
	}
	v, err := e.fills.Get(p.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedger, err)
	}
	return v, nil
}

// price splits both legs. The fee leg is charged protocol fee, royalties and
// origin fees; the other leg only goes through the receiver's payouts.
func (e *Engine) price(p *plan) error {
	lo, ro := p.left.order, p.right.order
	leftLeg := fee.Leg{
		Total:       p.res.LeftValue,
		Counter:     ro.MakeAsset.Type,
		Beneficiary: ro.Maker,
		Payouts:     p.right.data.Payouts,
	}
	rightLeg := fee.Leg{
		Total:       p.res.RightValue,
		Counter:     lo.MakeAsset.Type,
		Beneficiary: lo.Maker,
		Payouts:     p.left.data.Payouts,
	}
	// origin fees belong to the taker order only
	origins := p.left.data.OriginFees

	p.feeSide = fee.SideOf(lo.MakeAsset.Type.Class, lo.TakeAsset.Type.Class)
	var leftDs, rightDs []fee.Disbursement
	var err error
	switch p.feeSide {
	case fee.SideLeft:
		leftLeg.Origins = origins
		if leftDs, err = e.fees.WithFees(leftLeg); err != nil {
			return err
		}
		if rightDs, err = e.fees.PayoutsOnly(rightLeg); err != nil {
			return err
		}
	case fee.SideRight:
		rightLeg.Origins = origins
		rightLeg.NativeProtocolFee = ro.MakeAsset.Type.Class == order.ClassWrapped
		if rightDs, err = e.fees.WithFees(rightLeg); err != nil {
			return err
		}
		if leftDs, err = e.fees.PayoutsOnly(leftLeg); err != nil {
			return err
		}
	default:
		if leftDs, err = e.fees.PayoutsOnly(leftLeg); err != nil {
			return err
		}
		if rightDs, err = e.fees.PayoutsOnly(rightLeg); err != nil {
			return err
		}
	}

	l := leg{asset: lo.MakeAsset.Type, payer: lo.Maker, direction: record.ToMaker, disbursements: leftDs}
	r := leg{asset: ro.MakeAsset.Type, payer: ro.Maker, direction: record.ToTaker, disbursements: rightDs}
	if p.feeSide == fee.SideRight {
		p.legs = []leg{r, l}
	} else {
		p.legs = []leg{l, r}
	}
	return nil
}

// execute dispatches the plan through sess. Forwarded native currency sits in
// escrow while native disbursements are paid out of it.
func (e *Engine) execute(ctx context.Context, sess *transfer.Session, p *plan) error {
	native := order.Native()
	escrow := e.cfg.Escrow

	if p.value.Sign() > 0 {
		if err := sess.Transfer(ctx, transfer.Transfer{Asset: native, Value: p.value, From: p.caller, To: escrow}); err != nil {
			return fmt.Errorf("%w: forward native: %w", ErrTransferFailed, err)
		}
	}

	for _, l := range p.legs {
		for _, d := range l.disbursements {
			rec := record.Transfer{
				AssetClass: l.asset.Class,
				AssetData:  hexutil.Bytes(append([]byte(nil), l.asset.Data...)),
				Value:      new(big.Int).Set(d.Amount),
				From:       l.payer,
				To:         d.To,
				Direction:  l.direction,
				Category:   d.Category,
			}
			t := transfer.Transfer{Asset: l.asset, Value: d.Amount, From: l.payer, To: d.To}

			switch {
			case d.InNative:
				ref, err := order.DecodeAssetData(l.asset)
				if err != nil {
					return err
				}
				if err := sess.Unwrap(ctx, ref.Token, l.payer, d.Amount); err != nil {
					return fmt.Errorf("%w: %w", ErrTransferFailed, err)
				}
				t.Asset = native
				rec.AssetClass, rec.AssetData = order.ClassNative, nil
			case l.asset.Class == order.ClassNative:
				t.From = escrow
			}

			if err := sess.Transfer(ctx, t); err != nil {
				return fmt.Errorf("%w: %s %s: %w", ErrTransferFailed, d.Category, l.direction, err)
			}
			p.records = append(p.records, rec)
		}
	}

	if p.refund.Sign() > 0 {
		if err := sess.Transfer(ctx, transfer.Transfer{Asset: native, Value: p.refund, From: escrow, To: p.caller}); err != nil {
			return fmt.Errorf("%w: refund: %w", ErrTransferFailed, err)
		}
	}
	return nil
}
