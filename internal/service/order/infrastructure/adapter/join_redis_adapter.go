// internal/service/order/infrastructure/adapter/join_redis_adapter.go
package adapter

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/application/saga"
)

// offerScript 原子地记录一条腿的结果。
// KEYS[1] join key；ARGV[1] 腿；ARGV[2] 结果消息；ARGV[3] 窗口（毫秒）。
// 返回 {1, 伙伴消息} 表示配对成功，{0} 表示等待或已配对过。
// 窗口从第一条结果写入时开始计时，重复写入不会延长。
var offerScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'JOINED' then
    return {0}
end
local other = 'PAYMENT'
if ARGV[1] == 'PAYMENT' then
    other = 'INVENTORY'
end
local partner = redis.call('HGET', KEYS[1], other)
if partner then
    redis.call('HSET', KEYS[1], 'state', 'JOINED', ARGV[1], ARGV[2])
    return {1, partner}
end
local fresh = redis.call('EXISTS', KEYS[1]) == 0
redis.call('HSET', KEYS[1], 'state', 'WAITING', ARGV[1], ARGV[2])
if fresh then
    redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {0}
`)

// reopenScript 把条目恢复为只剩伙伴结果的等待状态。
// KEYS[1] join key；ARGV[1] 需要重投的腿；ARGV[2] 伙伴腿；ARGV[3] 伙伴消息；ARGV[4] 窗口（毫秒）。
var reopenScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'WAITING', ARGV[2], ARGV[3])
if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// RedisJoinStore 是 saga.JoinStore 的 Redis 实现，多个协调器副本共享 join 状态。
// 过期由 key TTL 完成，因此不计入 saga_join_expired_total。
type RedisJoinStore struct {
	client redis.Scripter
	window time.Duration
}

func NewRedisJoinStore(client redis.Scripter, window time.Duration) *RedisJoinStore {
	return &RedisJoinStore{client: client, window: window}
}

func (s *RedisJoinStore) Offer(ctx context.Context, leg sagaevent.Source, outcome *sagaevent.OrderEvent) (*saga.Pair, error) {
	payload, err := sagaevent.Encode(outcome)
	if err != nil {
		return nil, err
	}
	res, err := offerScript.Run(ctx, s.client, []string{joinKey(outcome.OrderID)},
		string(leg), string(payload), s.window.Milliseconds()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "run join offer script")
	}
	return parseOfferResult(leg, outcome, res)
}

func (s *RedisJoinStore) Reopen(ctx context.Context, leg sagaevent.Source, pair *saga.Pair) error {
	partnerLeg, partner := sagaevent.SourcePayment, pair.Payment
	if leg == sagaevent.SourcePayment {
		partnerLeg, partner = sagaevent.SourceInventory, pair.Stock
	}
	payload, err := sagaevent.Encode(partner)
	if err != nil {
		return err
	}
	err = reopenScript.Run(ctx, s.client, []string{joinKey(partner.OrderID)},
		string(leg), string(partnerLeg), string(payload), s.window.Milliseconds()).Err()
	return errors.Wrap(err, "run join reopen script")
}

func joinKey(orderID int64) string {
	return "saga:join:{" + strconv.FormatInt(orderID, 10) + "}"
}

func parseOfferResult(leg sagaevent.Source, outcome *sagaevent.OrderEvent, res interface{}) (*saga.Pair, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return nil, errors.Errorf("unexpected result type from join script: %T", res)
	}
	code, ok := values[0].(int64)
	if !ok {
		return nil, errors.Errorf("unexpected result code from join script: %v", values[0])
	}
	if code == 0 {
		return nil, nil
	}
	if len(values) < 2 {
		return nil, errors.New("join script matched without partner payload")
	}
	raw, ok := values[1].(string)
	if !ok {
		return nil, errors.Errorf("unexpected partner payload type: %T", values[1])
	}
	partner, err := sagaevent.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if leg == sagaevent.SourcePayment {
		return &saga.Pair{Payment: outcome, Stock: partner}, nil
	}
	return &saga.Pair{Payment: partner, Stock: outcome}, nil
}
