package service

import (
	"github.com/bitfantasy/nimo-oms/internal/config"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Registry   *RegistryService
	Resolution *ResolutionService
	Expander   *ExpanderService
	Order      *OrderService
	Reconcile  *ReconcileService
	Merge      *MergeService
	Sweeper    *Sweeper
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *Services {
	registry := NewRegistryService(repos.Spec, repos.Product, repos.DB(), logger)
	resolution := NewResolutionService(registry, repos.Spec, repos.Order, logger)
	expander := NewExpanderService(resolution)
	reconciler := NewReconcileService(repos, resolution, expander, logger)
	order := NewOrderService(repos, registry, resolution, expander, reconciler, logger)
	merge := NewMergeService(repos, logger)

	var sweeper *Sweeper
	if cfg != nil && cfg.Sweep.Enabled {
		sweeper = NewSweeper(reconciler, rdb, cfg.Sweep.Interval, cfg.Sweep.LockTTL, logger)
	}

	return &Services{
		Registry:   registry,
		Resolution: resolution,
		Expander:   expander,
		Order:      order,
		Reconcile:  reconciler,
		Merge:      merge,
		Sweeper:    sweeper,
	}
}
