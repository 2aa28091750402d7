package models

import (
	"fmt"
	"time"
)

// Mode 定义了单个品种允许交易的方向
type Mode string

const (
	ModeLong  Mode = "long"  // 只做多
	ModeShort Mode = "short" // 只做空
	ModeBoth  Mode = "both"  // 多空双向
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	GatewayURL        string         `json:"gateway_url"`         // 券商网关桥接服务的 REST 地址
	GatewayWSURL      string         `json:"gateway_ws_url"`      // 桥接服务的 WebSocket 地址
	DBPath            string         `json:"db_path"`             // 交易状态数据库目录
	HistoryDays       int            `json:"history_days"`        // 启动时拉取的历史K线天数
	BarSize           string         `json:"bar_size"`            // K线周期, 如 "1 day"
	FillTimeoutSec    int            `json:"fill_timeout_sec"`    // 限价单等待成交的超时秒数
	MarketSettleSec   int            `json:"market_settle_sec"`   // 市价单成交确认前的等待秒数
	RestartPolicy     string         `json:"restart_policy"`      // 重启策略: "cycle" (整队重启) 或 "worker" (单品种重启)
	RestartDelaySec   int            `json:"restart_delay_sec"`   // 重启前的延迟秒数
	MaxCycles         int            `json:"max_cycles"`          // 最大运行轮数, 0 表示无限
	MetricsAddr       string         `json:"metrics_addr"`        // Prometheus 监听地址, 留空则关闭
	ReportIntervalSec int            `json:"report_interval_sec"` // 状态报表打印间隔秒数, 0 表示关闭
	LogConfig         LogConfig      `json:"log"`                 // 日志配置
	Workers           []WorkerConfig `json:"workers"`             // 品种配置表, 每行一个独立 worker
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// WorkerConfig 是单个品种的不可变配置, worker 启动时加载一次
type WorkerConfig struct {
	Symbol              string  `json:"symbol"`                // 品种代码, 如 "TQQQ"
	CooldownDays        int     `json:"cooldown_days"`         // 同一品种两次交易之间的冷却天数
	TradeQuantity       int     `json:"trade_quantity"`        // 每次开仓的数量
	Mode                Mode    `json:"mode"`                  // 交易方向: long / short / both
	ExitProfitThreshold float64 `json:"exit_profit_threshold"` // 多头止盈比例, 如 0.3 表示 30%
	TotalCapital        float64 `json:"total_capital"`         // 该品种可用的总资金上限
	ATRMultiple         float64 `json:"atr_multiple"`          // ATR 止损倍数
	ClientID            int     `json:"client_id"`             // 网关会话ID, 并发连接间必须唯一
}

// Bar 定义了一根K线, 同一品种内时间戳严格递增
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IndicatorBar 是附加了衍生指标字段的K线。
// 回看窗口未满时对应字段为 NaN, 消费方必须视为"无信号"而不是零。
type IndicatorBar struct {
	Bar
	HighestHigh float64 // 唐奇安通道上轨: 回看窗口内最高价的最大值
	LowestLow   float64 // 唐奇安通道下轨: 回看窗口内最低价的最小值
	ExitHigh    float64 // 离场通道上轨
	ExitLow     float64 // 离场通道下轨
	ATR         float64 // 波动幅度代理: 窗口内最高价极大值减最低价极小值
	EMA         float64 // 趋势均线, 以序列首值为种子
}

// Tick 是网关推送的实时行情
type Tick struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"` // Unix 毫秒
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
}

// PositionSnapshot 是从券商实时查询到的聚合持仓, 每个方向一条, 无逐笔明细
type PositionSnapshot struct {
	AvgCostLong  float64 `json:"avg_cost_long"`
	LongQty      float64 `json:"long_qty"`
	AvgCostShort float64 `json:"avg_cost_short"`
	ShortQty     float64 `json:"short_qty"`
}

// TradeRecord 是每个品种持久化的最近交易状态, 原地覆盖, 跨进程重启存活。
// 平仓后价格字段写入 null 而不是删除整条记录。
type TradeRecord struct {
	Time            time.Time `json:"time"`
	LongEntryPrice  *float64  `json:"longEntryPrice"`
	ShortEntryPrice *float64  `json:"shortEntryPrice"`
}

// Action 是单次tick的交易决策, 只在内存中存在, 不持久化
type Action string

const (
	ActionNone       Action = "NONE"
	ActionEnterLong  Action = "ENTER_LONG"
	ActionExitLong   Action = "EXIT_LONG"
	ActionEnterShort Action = "ENTER_SHORT"
	ActionExitShort  Action = "EXIT_SHORT"
)

// TradeDecision 描述一次决策及其限价
type TradeDecision struct {
	Action     Action
	LimitPrice float64
}

// Order 定义了网关返回的订单信息
type Order struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Type       string  `json:"type"` // "LIMIT" 或 "MARKET"
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Status     string  `json:"status"` // "Submitted", "Filled", "Cancelled" ...
	FillPrice  float64 `json:"fill_price"`
	UpdateTime int64   `json:"update_time"`
}

// Execution 定义了一条成交记录
type Execution struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"` // Unix 毫秒
}

// Error 定义了桥接服务返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("gateway error: code=%d, msg=%s", e.Code, e.Msg)
}
