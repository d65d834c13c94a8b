// internal/service/order/application/saga/decision.go
package saga

import (
	"github.com/pkg/errors"

	"ordersaga/internal/pkg/sagaevent"
)

// ErrUnknownOutcome 表示腿的结果不是 ACCEPT / REJECT。
var ErrUnknownOutcome = errors.New("unknown leg outcome")

// Decide 是 2×2 决策表，纯函数。
//
//	payment  stock   -> status     source
//	ACCEPT   ACCEPT  -> CONFIRMED  ""
//	REJECT   REJECT  -> REJECTED   stock.source
//	REJECT   ACCEPT  -> ROLLBACK   PAYMENT
//	ACCEPT   REJECT  -> ROLLBACK   INVENTORY
func Decide(payment, stock sagaevent.Status, stockSource sagaevent.Source) (sagaevent.Status, sagaevent.Source, error) {
	switch {
	case payment == sagaevent.StatusAccept && stock == sagaevent.StatusAccept:
		return sagaevent.StatusConfirmed, sagaevent.SourceNone, nil
	case payment == sagaevent.StatusReject && stock == sagaevent.StatusReject:
		return sagaevent.StatusRejected, stockSource, nil
	case payment == sagaevent.StatusReject && stock == sagaevent.StatusAccept:
		return sagaevent.StatusRollback, sagaevent.SourcePayment, nil
	case payment == sagaevent.StatusAccept && stock == sagaevent.StatusReject:
		return sagaevent.StatusRollback, sagaevent.SourceInventory, nil
	}
	return "", "", errors.Wrapf(ErrUnknownOutcome, "payment=%s stock=%s", payment, stock)
}

// Combine 把配对好的两条结果合成最终决定事件，订单行取自支付腿的消息。
func Combine(pair Pair) (*sagaevent.OrderEvent, error) {
	status, source, err := Decide(pair.Payment.Status, pair.Stock.Status, pair.Stock.Source)
	if err != nil {
		return nil, err
	}
	return pair.Payment.WithOutcome(status, source), nil
}

func isLegOutcome(s sagaevent.Status) bool {
	return s == sagaevent.StatusAccept || s == sagaevent.StatusReject
}
