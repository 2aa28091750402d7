package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ibkr-turtle-bot-go/internal/models"
)

// 配置缺省值, 与参考行为保持一致
const (
	DefaultHistoryDays     = 120
	DefaultBarSize         = "1 day"
	DefaultFillTimeoutSec  = 30
	DefaultMarketSettleSec = 3
	DefaultRestartPolicy   = "cycle"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	if cfg.BarSize == "" {
		cfg.BarSize = DefaultBarSize
	}
	if cfg.FillTimeoutSec <= 0 {
		cfg.FillTimeoutSec = DefaultFillTimeoutSec
	}
	if cfg.MarketSettleSec <= 0 {
		cfg.MarketSettleSec = DefaultMarketSettleSec
	}
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = DefaultRestartPolicy
	}
}

// Validate 检查全局配置和每个品种的配置行。
// 配置错误属于致命错误, worker 不允许带着坏配置启动。
func Validate(cfg *models.Config) error {
	if cfg.GatewayURL == "" {
		return fmt.Errorf("配置错误: gateway_url 不能为空")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("配置错误: db_path 不能为空")
	}
	if cfg.RestartPolicy != "cycle" && cfg.RestartPolicy != "worker" {
		return fmt.Errorf("配置错误: restart_policy 必须是 'cycle' 或 'worker', 实际为 %q", cfg.RestartPolicy)
	}
	if len(cfg.Workers) == 0 {
		return fmt.Errorf("配置错误: workers 品种表为空")
	}

	seenSymbols := make(map[string]bool)
	seenClients := make(map[int]bool)
	for i, w := range cfg.Workers {
		if err := ValidateWorker(w); err != nil {
			return fmt.Errorf("配置错误: workers[%d]: %w", i, err)
		}
		if seenSymbols[w.Symbol] {
			return fmt.Errorf("配置错误: 品种 %s 出现了多次", w.Symbol)
		}
		if seenClients[w.ClientID] {
			// 网关按 client_id 复用会话, 并发连接之间必须唯一
			return fmt.Errorf("配置错误: client_id %d 被多个品种使用", w.ClientID)
		}
		seenSymbols[w.Symbol] = true
		seenClients[w.ClientID] = true
	}
	return nil
}

// ValidateWorker 检查单个品种配置行
func ValidateWorker(w models.WorkerConfig) error {
	if w.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	switch w.Mode {
	case models.ModeLong, models.ModeShort, models.ModeBoth:
	default:
		return fmt.Errorf("品种 %s 的 mode 无效: %q", w.Symbol, w.Mode)
	}
	if w.TradeQuantity <= 0 {
		return fmt.Errorf("品种 %s 的 trade_quantity 必须为正数", w.Symbol)
	}
	if w.CooldownDays < 0 {
		return fmt.Errorf("品种 %s 的 cooldown_days 不能为负数", w.Symbol)
	}
	if w.TotalCapital <= 0 {
		return fmt.Errorf("品种 %s 的 total_capital 必须为正数", w.Symbol)
	}
	if w.ATRMultiple <= 0 {
		return fmt.Errorf("品种 %s 的 atr_multiple 必须为正数", w.Symbol)
	}
	if w.ExitProfitThreshold <= 0 {
		return fmt.Errorf("品种 %s 的 exit_profit_threshold 必须为正数", w.Symbol)
	}
	if w.ClientID <= 0 {
		return fmt.Errorf("品种 %s 的 client_id 必须为正整数", w.Symbol)
	}
	return nil
}
