package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ibkr-turtle-bot-go/internal/config"
	"ibkr-turtle-bot-go/internal/fleet"
	"ibkr-turtle-bot-go/internal/gateway"
	"ibkr-turtle-bot-go/internal/logger"
	"ibkr-turtle-bot-go/internal/metrics"
	"ibkr-turtle-bot-go/internal/models"
	"ibkr-turtle-bot-go/internal/reporter"
	"ibkr-turtle-bot-go/internal/store"
	"ibkr-turtle-bot-go/internal/worker"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一个临时logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 环境变量覆盖网关地址, 便于部署时切换
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}
	if wsURL := os.Getenv("GATEWAY_WS_URL"); wsURL != "" {
		cfg.GatewayWSURL = wsURL
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync() // 确保在main函数退出时刷新所有缓冲的日志

	// --- 打开交易状态数据库 ---
	repo, err := store.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开交易状态数据库: %v", err)
	}
	defer repo.Close()

	// --- 观测组件 ---
	metrics.Serve(cfg.MetricsAddr)
	if cfg.MetricsAddr != "" {
		logger.S().Infof("Prometheus指标已在 %s/metrics 开放。", cfg.MetricsAddr)
	}
	rep := reporter.NewReporter(time.Duration(cfg.ReportIntervalSec) * time.Second)
	rep.Start()
	defer rep.Stop()

	// --- 组装worker工厂 ---
	opts := worker.Options{
		HistoryDays:  cfg.HistoryDays,
		BarSize:      cfg.BarSize,
		FillTimeout:  time.Duration(cfg.FillTimeoutSec) * time.Second,
		MarketSettle: time.Duration(cfg.MarketSettleSec) * time.Second,
		Reporter:     rep,
	}
	runner := func(ctx context.Context, wc models.WorkerConfig) error {
		log := logger.Named(wc.Symbol)
		gw := gateway.NewBridgeGateway(cfg.GatewayURL, cfg.GatewayWSURL, wc.ClientID, log)
		return worker.New(wc, gw, repo, log, opts).Run(ctx)
	}

	// --- 优雅退出 ---
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.S().Info("收到退出信号, 正在停止fleet...")
		cancel()
	}()

	// --- 启动fleet ---
	supervisor := fleet.NewSupervisor(cfg, runner, logger.S())
	if err := supervisor.Run(ctx); err != nil {
		logger.S().Fatalf("fleet运行失败: %v", err)
	}
	logger.S().Info("程序已退出。")
}
