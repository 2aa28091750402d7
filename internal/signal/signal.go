package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ibkr-turtle-bot-go/internal/models"
)

// ErrMissingIndicator 表示信号所依赖的指标字段尚未就绪 (回看窗口未满)。
// 调用方应将其视为"无信号", 而不是致命错误。
var ErrMissingIndicator = errors.New("所需指标字段尚未就绪")

// Evaluator 对最新指标K线做纯函数判定, 自身不持有任何可变状态。
// 持久化的上次交易价格由调用方读出后作为参数传入。
type Evaluator struct {
	Cfg models.WorkerConfig
}

// requireFields 检查给定指标值均已就绪, 任一为 NaN 则返回前置条件错误
func requireFields(name string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) {
			return fmt.Errorf("%s: %w", name, ErrMissingIndicator)
		}
	}
	return nil
}

// ShouldEnterLong 判定是否应开多仓:
// 收盘价向上突破唐奇安上轨且位于趋势均线之上, 同时通过资金充足性检查。
func (e Evaluator) ShouldEnterLong(bar models.IndicatorBar, avgCost, longQty float64) (bool, error) {
	if err := requireFields("ShouldEnterLong", bar.HighestHigh, bar.EMA); err != nil {
		return false, err
	}
	if bar.Close <= 0 {
		return false, nil
	}
	breakout := bar.Close > bar.HighestHigh
	trend := bar.Close > bar.EMA

	// 已有持仓时检查加仓后的资金占用是否仍在总资金之内, 无持仓时跳过
	capitalOK := true
	if avgCost > 0 && longQty > 0 && e.Cfg.TotalCapital > 0 && e.Cfg.TradeQuantity > 0 {
		capitalOK = e.Cfg.TotalCapital > avgCost*longQty+float64(e.Cfg.TradeQuantity)*bar.Close
	}
	return breakout && trend && capitalOK, nil
}

// ShouldExitLong 判定是否应平多仓, 任一条件满足即离场:
// 跌破离场通道下轨、跌破趋势均线、达到止盈比例、
// 或相对持久化入场价回撤超过 ATRMultiple 倍波动幅度。
func (e Evaluator) ShouldExitLong(bar models.IndicatorBar, avgCost float64, lastLongPrice *float64) (bool, error) {
	if err := requireFields("ShouldExitLong", bar.ExitLow, bar.EMA); err != nil {
		return false, err
	}
	if bar.Close <= 0 || avgCost <= 0 {
		return false, nil
	}
	channel := bar.Close < bar.ExitLow
	trend := bar.Close < bar.EMA
	profit := (bar.Close-avgCost)/avgCost > e.Cfg.ExitProfitThreshold

	// ATR 窗口未满时 bar.ATR 为 NaN, NaN > 0 恒为假, 该条款自然跳过
	if lastLongPrice != nil && bar.ATR > 0 {
		drawdown := bar.Close < *lastLongPrice && (*lastLongPrice-bar.Close) > e.Cfg.ATRMultiple*bar.ATR
		return channel || trend || profit || drawdown, nil
	}
	return channel || trend || profit, nil
}

// ShouldEnterShort 判定是否应开空仓:
// 收盘价向下跌破唐奇安下轨且位于趋势均线之下。
func (e Evaluator) ShouldEnterShort(bar models.IndicatorBar) (bool, error) {
	if err := requireFields("ShouldEnterShort", bar.LowestLow, bar.EMA); err != nil {
		return false, err
	}
	if bar.Close <= 0 {
		return false, nil
	}
	return bar.Close < bar.LowestLow && bar.Close < bar.EMA, nil
}

// ShouldExitShort 判定是否应平空仓, 任一条件满足即离场:
// 向上突破离场通道上轨、突破趋势均线、
// 或相对持久化入场价反弹超过 ATRMultiple 倍波动幅度。
func (e Evaluator) ShouldExitShort(bar models.IndicatorBar, lastShortPrice *float64) (bool, error) {
	if err := requireFields("ShouldExitShort", bar.ExitHigh, bar.EMA); err != nil {
		return false, err
	}
	if bar.Close <= 0 {
		return false, nil
	}
	channel := bar.Close > bar.ExitHigh
	trend := bar.Close > bar.EMA

	if lastShortPrice != nil && bar.ATR > 0 {
		rebound := bar.Close > *lastShortPrice && (bar.Close-*lastShortPrice) > e.Cfg.ATRMultiple*bar.ATR
		return channel || trend || rebound, nil
	}
	return channel || trend, nil
}

// InCooldown 判定距上次交易是否仍在冷却期内: now - last < cooldownDays
func InCooldown(lastTrade, now time.Time, cooldownDays int) bool {
	cooldown := time.Duration(cooldownDays) * 24 * time.Hour
	return now.Sub(lastTrade) < cooldown
}
