// internal/pkg/sagaevent/event.go
package sagaevent

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// 订单生命周期主题，均以 orderId 为 key，并配置为 compacted。
const (
	TopicOrders        = "orders"
	TopicPaymentOrders = "payment-orders"
	TopicStockOrders   = "stock-orders"
)

// Status 是订单状态，同时也是腿的结果状态。
type Status string

const (
	StatusNew       Status = "NEW"
	StatusAccept    Status = "ACCEPT"
	StatusReject    Status = "REJECT"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusRollback  Status = "ROLLBACK"
)

// IsTerminal 表示订单是否已到终态。
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected || s == StatusRollback
}

// Source 标识产生结果（或触发 ROLLBACK）的腿。空值在 JSON 中编码为 null。
type Source string

const (
	SourceNone      Source = ""
	SourcePayment   Source = "PAYMENT"
	SourceInventory Source = "INVENTORY"
)

func (s Source) MarshalJSON() ([]byte, error) {
	if s == SourceNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Source) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = SourceNone
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Source(v)
	return nil
}

// Item 是消息中的订单行。
type Item struct {
	ProductID    string          `json:"productId"`
	Quantity     int32           `json:"quantity"`
	ProductPrice decimal.Decimal `json:"productPrice"`
}

// OrderEvent 是订单、腿结果与最终决定共用的消息体。
type OrderEvent struct {
	OrderID    int64  `json:"orderId"`
	CustomerID int64  `json:"customerId"`
	Status     Status `json:"status"`
	Source     Source `json:"source"`
	Items      []Item `json:"items"`
}

// Key 是分区 key。
func (e *OrderEvent) Key() []byte {
	return []byte(strconv.FormatInt(e.OrderID, 10))
}

// TotalPrice 返回 Σ quantity × price。
func (e *OrderEvent) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, it := range e.Items {
		total = total.Add(it.ProductPrice.Mul(decimal.NewFromInt32(it.Quantity)))
	}
	return total
}

// ProductCodes 返回去重后的商品编码，保持首次出现的顺序。
func (e *OrderEvent) ProductCodes() []string {
	seen := make(map[string]struct{}, len(e.Items))
	codes := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		codes = append(codes, it.ProductID)
	}
	return codes
}

// WithOutcome 复制事件并替换状态与来源，不共享 Items 底层数组。
func (e *OrderEvent) WithOutcome(status Status, source Source) *OrderEvent {
	out := *e
	out.Items = append([]Item(nil), e.Items...)
	out.Status = status
	out.Source = source
	return &out
}

func Encode(e *OrderEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	return data, errors.Wrap(err, "encode order event")
}

func Decode(data []byte) (*OrderEvent, error) {
	var e OrderEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "decode order event")
	}
	if e.OrderID == 0 {
		return nil, errors.New("decode order event: missing orderId")
	}
	return &e, nil
}

// QuantitiesByProduct 按商品汇总数量；同一商品出现多行时累加。
func (e *OrderEvent) QuantitiesByProduct() map[string]int32 {
	out := make(map[string]int32, len(e.Items))
	for _, it := range e.Items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

// Phase 是腿处理一个订单的阶段，与 orderId 一起构成去重 key。
type Phase string

const (
	PhaseReserve  Phase = "RESERVE"
	PhaseConfirm  Phase = "CONFIRM"
	PhaseRollback Phase = "ROLLBACK"
)
