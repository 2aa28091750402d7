package indicator

import (
	"math"

	"ibkr-turtle-bot-go/internal/models"
)

// Params 定义了各指标的回看窗口长度
type Params struct {
	Donchian int // 突破通道窗口
	Exit     int // 离场通道窗口
	ATR      int // 波动幅度窗口
	Trend    int // 趋势均线窗口
}

// DefaultParams 返回标准海龟参数
func DefaultParams() Params {
	return Params{Donchian: 20, Exit: 10, ATR: 14, Trend: 50}
}

// Calculate 对有序K线序列计算全部衍生字段, 返回附加了指标的副本。
// 每次调用都在整个序列上重新计算, 无内部状态, 对相同输入结果恒等。
// 所有滚动窗口只使用当前下标及之前的K线, 不存在未来数据。
// 窗口未满时对应字段为 NaN。
func Calculate(bars []models.Bar, p Params) []models.IndicatorBar {
	out := make([]models.IndicatorBar, len(bars))
	for i := range bars {
		out[i].Bar = bars[i]
		out[i].HighestHigh = rollingMaxHigh(bars, i, p.Donchian)
		out[i].LowestLow = rollingMinLow(bars, i, p.Donchian)
		out[i].ExitHigh = rollingMaxHigh(bars, i, p.Exit)
		out[i].ExitLow = rollingMinLow(bars, i, p.Exit)
		out[i].ATR = atrProxy(bars, i, p.ATR)
	}
	ema(bars, out, p.Trend)
	return out
}

// rollingMaxHigh 返回 [i-n+1, i] 窗口内的最高价最大值, 窗口未满返回 NaN
func rollingMaxHigh(bars []models.Bar, i, n int) float64 {
	if i+1 < n {
		return math.NaN()
	}
	max := bars[i-n+1].High
	for j := i - n + 2; j <= i; j++ {
		if bars[j].High > max {
			max = bars[j].High
		}
	}
	return max
}

// rollingMinLow 返回 [i-n+1, i] 窗口内的最低价最小值, 窗口未满返回 NaN
func rollingMinLow(bars []models.Bar, i, n int) float64 {
	if i+1 < n {
		return math.NaN()
	}
	min := bars[i-n+1].Low
	for j := i - n + 2; j <= i; j++ {
		if bars[j].Low < min {
			min = bars[j].Low
		}
	}
	return min
}

// atrProxy 用窗口内最高价极大值减最低价极小值作为波动幅度的代理
func atrProxy(bars []models.Bar, i, n int) float64 {
	hi := rollingMaxHigh(bars, i, n)
	lo := rollingMinLow(bars, i, n)
	if math.IsNaN(hi) || math.IsNaN(lo) {
		return math.NaN()
	}
	return hi - lo
}

// ema 计算指数加权均线, alpha = 2/(n+1), 以序列首个收盘价为种子。
// 种子来自序列本身, 不随调用重置, 因此从第一根K线起就有定义。
func ema(bars []models.Bar, out []models.IndicatorBar, n int) {
	if len(bars) == 0 {
		return
	}
	alpha := 2.0 / (float64(n) + 1.0)
	value := bars[0].Close
	out[0].EMA = value
	for i := 1; i < len(bars); i++ {
		value = bars[i].Close*alpha + value*(1.0-alpha)
		out[i].EMA = value
	}
}
