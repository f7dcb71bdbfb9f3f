package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sweepLockKey = "oms:sweep:repair_duplicate_bases"

// Sweeper 周期性一致性清扫
//
// 多实例部署时用 redis SetNX 抢锁，同一周期只有一个实例执行修复。
// 修复本身幂等，锁只是避免无谓的重复扫描。
type Sweeper struct {
	reconciler *ReconcileService
	rdb        *redis.Client
	interval   time.Duration
	lockTTL    time.Duration
	logger     *zap.Logger
}

func NewSweeper(reconciler *ReconcileService, rdb *redis.Client, interval, lockTTL time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Sweeper{
		reconciler: reconciler,
		rdb:        rdb,
		interval:   interval,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// Run 阻塞运行清扫循环，ctx 取消时退出
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("一致性清扫退出")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, sweepLockKey, time.Now().Format(time.RFC3339), s.lockTTL).Result()
		if err != nil {
			s.logger.Warn("清扫锁获取失败，跳过本轮", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer s.rdb.Del(ctx, sweepLockKey)
	}

	repaired, err := s.reconciler.RepairDuplicateBases(ctx)
	if err != nil {
		s.logger.Error("重复基础规格修复失败", zap.Error(err))
		return
	}
	if repaired > 0 {
		s.logger.Info("一致性清扫完成", zap.Int("demoted", repaired))
	}
}
