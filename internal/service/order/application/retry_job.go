// internal/service/order/application/retry_job.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/service/order/domain/port"
)

// RetryJob 按固定间隔触发 RetryNewOrders。配置了 locker 时，每次触发先抢分布式锁，
// 抢不到的副本跳过本轮。
type RetryJob struct {
	service  *OrderApplicationService
	locker   port.Locker // 可为 nil，单副本部署时不需要锁
	interval time.Duration
	lockWait time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRetryJob(service *OrderApplicationService, locker port.Locker, interval time.Duration) *RetryJob {
	return &RetryJob{
		service:  service,
		locker:   locker,
		interval: interval,
		lockWait: interval / 4,
	}
}

func (j *RetryJob) Start(ctx context.Context) error {
	if j.interval <= 0 {
		return errors.New("retry interval must be positive")
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		logger.Ctx(ctx).Info().Dur("interval", j.interval).Msg("✅ Order retry job started")
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Ctx(ctx).Info().Msg("🛑 Order retry job shutting down")
				return
			case <-ticker.C:
				if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Ctx(ctx).Error().Err(err).Msg("order retry run failed")
				}
			}
		}
	}()
	return nil
}

func (j *RetryJob) Stop(ctx context.Context) {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

// RunOnce 执行一轮重发。没抢到锁时返回 (0, nil)。
func (j *RetryJob) RunOnce(ctx context.Context) (int, error) {
	if j.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, j.lockWait)
		err := j.locker.Lock(lockCtx)
		cancel()
		if err != nil {
			logger.Ctx(ctx).Debug().Err(err).Msg("retry lock held by another replica, skipping this tick")
			return 0, nil
		}
		defer func() {
			if err := j.locker.Unlock(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to release retry lock")
			}
		}()
	}
	return j.service.RetryNewOrders(ctx)
}
