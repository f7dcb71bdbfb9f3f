package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-oms/internal/config"
	"github.com/bitfantasy/nimo-oms/internal/middleware"
	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/handler"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env（本地开发用，不存在时忽略）
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-oms service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := entity.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, rdb, cfg, zapLogger)
	handlers := handler.NewHandlers(services, repos)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	// 周期性一致性清扫
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if services.Sweeper != nil {
		go services.Sweeper.Run(sweepCtx)
	}

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		v1.Use(middleware.RateLimit(cfg.RateLimit.Rate))
	}
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		// 产品
		v1.POST("/product-templates", h.Product.CreateTemplate)
		v1.POST("/products", h.Product.CreateProduct)
		v1.GET("/products/:id", h.Product.GetProduct)

		// 规格目录
		specs := v1.Group("/specs")
		{
			specs.POST("", h.Spec.CreateSpec)
			specs.GET("", h.Spec.ListSpecs)
			specs.GET("/base", h.Spec.FindBase)
			specs.POST("/ensure-base", h.Spec.EnsureBase)
			specs.GET("/:id", h.Spec.GetSpec)
			specs.GET("/:id/export", h.Spec.ExportSpec)
			specs.POST("/:id/set-base", h.Spec.SetBase)
			specs.POST("/:id/mark-base", h.Spec.MarkBase)
			specs.POST("/:id/unmark-base", h.Spec.UnmarkBase)
		}

		// 完整性维护
		v1.GET("/integrity/validate", h.Spec.ValidateIntegrity)
		v1.POST("/integrity/repair", h.Spec.RepairIntegrity)

		// 销售订单
		orders := v1.Group("/orders")
		{
			orders.POST("", h.Order.CreateOrder)
			orders.GET("", h.Order.ListOrders)
			orders.GET("/:id", h.Order.GetOrder)
			orders.POST("/:id/send", h.Order.MarkSent)
			orders.POST("/:id/approve", h.Order.Approve)
			orders.POST("/:id/commit", h.Order.Commit)
			orders.POST("/:id/cancel", h.Order.Cancel)
			orders.GET("/:id/shipments", h.Fulfillment.ListOrderShipments)

			orders.POST("/:id/lines/:lineId/customize", h.Order.BeginCustomization)
			orders.POST("/:id/lines/:lineId/override", h.Order.AttachOverride)
			orders.POST("/:id/lines/:lineId/accept-base", h.Order.AcceptBase)
			orders.GET("/:id/lines/:lineId/customize-allowed", h.Order.CustomizeAllowed)
			orders.GET("/:id/lines/:lineId/spec", h.Order.ResolveLine)
			orders.POST("/:id/lines/:lineId/reconcile", h.Order.ReconcileLine)
		}

		// 发运单
		shipments := v1.Group("/shipments")
		{
			shipments.GET("/:id", h.Fulfillment.GetShipment)
			shipments.POST("/:id/merge-duplicates", h.Fulfillment.MergeDuplicates)
		}
	}
}
