package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"ibkr-turtle-bot-go/internal/gateway"
	"ibkr-turtle-bot-go/internal/indicator"
	"ibkr-turtle-bot-go/internal/metrics"
	"ibkr-turtle-bot-go/internal/models"
	"ibkr-turtle-bot-go/internal/reporter"
	"ibkr-turtle-bot-go/internal/signal"
	"ibkr-turtle-bot-go/internal/store"
)

// Options 是worker的运行参数, 由全局配置派生
type Options struct {
	HistoryDays  int
	BarSize      string
	FillTimeout  time.Duration // 限价单等待成交的超时
	MarketSettle time.Duration // 市价单成交确认前的等待
	Reporter     *reporter.Reporter
}

// Worker 是单品种的交易协调器。
// 仓位状态不用枚举缓存, 每个tick都从实时持仓和持久化记录重建,
// 因此崩溃或重启不会造成状态漂移, 外部才是唯一事实来源。
type Worker struct {
	cfg  models.WorkerConfig
	gw   gateway.Gateway
	repo store.Repository
	eval signal.Evaluator
	opts Options
	log  *zap.SugaredLogger

	params indicator.Params
	bars   []models.Bar // 启动时拉取的历史K线, 行情tick不回写

	firstDecision bool // 冷却检查的启动例外只对第一次决策生效
}

// New 创建一个品种worker
func New(cfg models.WorkerConfig, gw gateway.Gateway, repo store.Repository, log *zap.SugaredLogger, opts Options) *Worker {
	return &Worker{
		cfg:           cfg,
		gw:            gw,
		repo:          repo,
		eval:          signal.Evaluator{Cfg: cfg},
		opts:          opts,
		log:           log,
		params:        indicator.DefaultParams(),
		firstDecision: true,
	}
}

// Run 建立网关会话, 拉取历史数据并进入tick处理循环。
// 返回非nil错误表示该worker遭遇致命故障, 由fleet层决定重启策略。
func (w *Worker) Run(ctx context.Context) error {
	if err := w.gw.Connect(); err != nil {
		return fmt.Errorf("品种 %s 连接网关失败: %w", w.cfg.Symbol, err)
	}
	defer w.gw.Close()

	bars, err := w.gw.FetchHistory(w.cfg.Symbol, w.opts.HistoryDays, w.opts.BarSize)
	if err != nil {
		return fmt.Errorf("品种 %s 拉取历史K线失败: %w", w.cfg.Symbol, err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("品种 %s 无历史K线数据", w.cfg.Symbol)
	}
	w.bars = bars
	w.log.Infof("历史数据就绪, 共 %d 根K线", len(bars))

	ticks, err := w.gw.SubscribeTicks(ctx, w.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("品种 %s 订阅行情失败: %w", w.cfg.Symbol, err)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("收到停止信号, worker退出。")
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return fmt.Errorf("品种 %s 行情通道已关闭", w.cfg.Symbol)
			}
			if err := w.onTick(tick); err != nil {
				return err
			}
		}
	}
}

// onTick 处理一个行情tick。tick在worker内严格串行处理,
// 处理过程中的网络往返阻塞只影响本品种。
func (w *Worker) onTick(tick models.Tick) error {
	metrics.TicksTotal.WithLabelValues(w.cfg.Symbol).Inc()

	if !tickValid(tick) {
		// 数据质量问题只跳过该tick, 绝不让worker崩溃
		metrics.SkippedTicksTotal.WithLabelValues(w.cfg.Symbol).Inc()
		w.log.Warnf("tick缺少必要字段, 跳过: %+v", tick)
		return nil
	}

	latest := w.augmentedLatest(tick)

	pos, err := w.gw.QueryPosition(w.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("品种 %s 查询持仓失败: %w", w.cfg.Symbol, err)
	}

	record := w.loadRecord()
	cooldown := w.inCooldown(record)

	traded := false
	if w.cfg.Mode == models.ModeLong || w.cfg.Mode == models.ModeBoth {
		traded = w.runLongSide(latest, pos, record, cooldown) || traded
	}
	if w.cfg.Mode == models.ModeShort || w.cfg.Mode == models.ModeBoth {
		traded = w.runShortSide(latest, pos, record, cooldown) || traded
	}
	w.firstDecision = false

	// 撤单与迟到成交存在竞态, 交易后重新查询持仓拿到权威状态
	if traded {
		if pos, err = w.gw.QueryPosition(w.cfg.Symbol); err != nil {
			return fmt.Errorf("品种 %s 交易后查询持仓失败: %w", w.cfg.Symbol, err)
		}
	}

	w.publish(latest, pos, cooldown)
	return nil
}

// tickValid 检查tick的必要字段是否齐全
func tickValid(tick models.Tick) bool {
	for _, v := range []float64{tick.Open, tick.High, tick.Low, tick.Last} {
		if math.IsNaN(v) || v <= 0 {
			return false
		}
	}
	return tick.Time > 0
}

// augmentedLatest 把tick转成K线, 拼在历史序列末尾并重算指标,
// 返回最新一根指标K线。时间戳不比最后一根历史K线新的tick不追加。
func (w *Worker) augmentedLatest(tick models.Tick) models.IndicatorBar {
	liveBar := models.Bar{
		Time:   time.UnixMilli(tick.Time),
		Open:   tick.Open,
		High:   tick.High,
		Low:    tick.Low,
		Close:  tick.Last,
		Volume: tick.Volume,
	}

	series := w.bars
	if liveBar.Time.After(w.bars[len(w.bars)-1].Time) {
		series = append(append([]models.Bar{}, w.bars...), liveBar)
	}
	augmented := indicator.Calculate(series, w.params)
	return augmented[len(augmented)-1]
}

// loadRecord 读取持久化的最近交易记录, 读失败降级为无记录
func (w *Worker) loadRecord() *models.TradeRecord {
	record, err := w.repo.Get(w.cfg.Symbol)
	if err != nil {
		w.log.Warnf("读取交易记录失败, 按无记录处理: %v", err)
		return nil
	}
	return record
}

// runLongSide 评估并执行多头方向, 有下单动作时返回true
func (w *Worker) runLongSide(latest models.IndicatorBar, pos *models.PositionSnapshot, record *models.TradeRecord, cooldown bool) bool {
	decision := w.decideLong(latest, pos, record, cooldown)
	switch decision.Action {
	case models.ActionEnterLong:
		w.log.Infof("多头入场信号, 信号价 %.4f", decision.LimitPrice)
		w.enter(models.Buy, decision.LimitPrice, latest.Close)
		return true
	case models.ActionExitLong:
		w.log.Infof("多头离场信号, 信号价 %.4f", decision.LimitPrice)
		w.exit(models.Sell, decision.LimitPrice, int(pos.LongQty))
		return true
	}
	return false
}

// runShortSide 评估并执行空头方向, 有下单动作时返回true
func (w *Worker) runShortSide(latest models.IndicatorBar, pos *models.PositionSnapshot, record *models.TradeRecord, cooldown bool) bool {
	decision := w.decideShort(latest, pos, record, cooldown)
	switch decision.Action {
	case models.ActionEnterShort:
		w.log.Infof("空头入场信号, 信号价 %.4f", decision.LimitPrice)
		w.enter(models.Sell, decision.LimitPrice, latest.Close)
		return true
	case models.ActionExitShort:
		w.log.Infof("空头离场信号, 信号价 %.4f", decision.LimitPrice)
		w.exit(models.Buy, decision.LimitPrice, int(pos.ShortQty))
		return true
	}
	return false
}

// decideLong 产生多头方向的单tick决策, 决策对象只在内存中存在
func (w *Worker) decideLong(latest models.IndicatorBar, pos *models.PositionSnapshot, record *models.TradeRecord, cooldown bool) models.TradeDecision {
	enter, err := w.eval.ShouldEnterLong(latest, pos.AvgCostLong, pos.LongQty)
	if err != nil {
		// 指标未就绪视为无信号
		w.log.Debugf("多头入场前置条件未满足: %v", err)
		enter = false
	}
	exit, err := w.eval.ShouldExitLong(latest, pos.AvgCostLong, longPrice(record))
	if err != nil {
		w.log.Debugf("多头离场前置条件未满足: %v", err)
		exit = false
	}

	if enter && !cooldown {
		return models.TradeDecision{Action: models.ActionEnterLong, LimitPrice: latest.HighestHigh}
	}
	if exit && pos.LongQty > 0 {
		return models.TradeDecision{Action: models.ActionExitLong, LimitPrice: latest.Close * 0.999}
	}
	return models.TradeDecision{Action: models.ActionNone}
}

// decideShort 产生空头方向的单tick决策
func (w *Worker) decideShort(latest models.IndicatorBar, pos *models.PositionSnapshot, record *models.TradeRecord, cooldown bool) models.TradeDecision {
	enter, err := w.eval.ShouldEnterShort(latest)
	if err != nil {
		w.log.Debugf("空头入场前置条件未满足: %v", err)
		enter = false
	}
	exit, err := w.eval.ShouldExitShort(latest, shortPrice(record))
	if err != nil {
		w.log.Debugf("空头离场前置条件未满足: %v", err)
		exit = false
	}

	if enter && !cooldown {
		return models.TradeDecision{Action: models.ActionEnterShort, LimitPrice: latest.LowestLow}
	}
	if exit && pos.ShortQty > 0 {
		return models.TradeDecision{Action: models.ActionExitShort, LimitPrice: latest.Close * 1.001}
	}
	return models.TradeDecision{Action: models.ActionNone}
}

// inCooldown 判定该品种是否处于冷却期。
// 参照时间优先取券商侧最近成交记录, 其次取持久化记录;
// 两者都没有时, 只有worker生命周期内的第一次决策可以豁免。
func (w *Worker) inCooldown(record *models.TradeRecord) bool {
	var ref time.Time

	exec, err := w.gw.QueryLastExecution(w.cfg.Symbol, "")
	if err != nil {
		w.log.Warnf("查询最近成交记录失败: %v", err)
	}
	switch {
	case exec != nil:
		ref = time.UnixMilli(exec.Time)
	case record != nil:
		ref = record.Time
	default:
		if w.firstDecision {
			return false
		}
		// 没有任何参照时间又不是首次决策, 保守起见按冷却中处理
		return true
	}

	return signal.InCooldown(ref, time.Now(), w.cfg.CooldownDays)
}

// enter 执行入场: 先挂突破价限价单, 超时则撤单并升级为一次市价单。
// 限价成交记突破价, 市价成交记当前收盘价; 市价也失败则放弃, 不留半途状态。
func (w *Worker) enter(side models.Side, limitPrice, closePrice float64) {
	order, err := w.gw.PlaceLimitOrder(w.cfg.Symbol, side, w.cfg.TradeQuantity, limitPrice)
	if err != nil {
		w.log.Errorf("入场限价单提交失败: %v", err)
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "failed").Inc()
		return
	}

	filled, err := w.gw.WaitForFill(order.ID, w.opts.FillTimeout)
	if err != nil {
		w.log.Errorf("等待入场限价单成交时出错: %v", err)
	}
	if filled {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "filled").Inc()
		w.persistEntry(side, limitPrice)
		w.log.Infof("入场限价单已成交 @ %.4f", limitPrice)
		return
	}

	// 超时升级: 一次撤单 + 一次市价单, 同一tick内不再重试
	metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "timeout").Inc()
	metrics.EscalationsTotal.WithLabelValues(w.cfg.Symbol).Inc()
	if err := w.gw.CancelOrder(order.ID); err != nil {
		// 撤单失败不中断升级, 订单可能已经不存在
		w.log.Warnf("撤销入场限价单失败: %v", err)
	}

	marketOrder, err := w.gw.PlaceMarketOrder(w.cfg.Symbol, side, w.cfg.TradeQuantity)
	if err != nil {
		w.log.Errorf("入场市价单提交失败: %v", err)
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "failed").Inc()
		return
	}
	time.Sleep(w.opts.MarketSettle)
	filled, err = w.gw.IsFilled(marketOrder.ID)
	if err != nil {
		w.log.Errorf("查询入场市价单状态失败: %v", err)
	}
	if filled {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "filled").Inc()
		w.persistEntry(side, closePrice)
		w.log.Infof("入场市价单已成交, 记录入场价 %.4f", closePrice)
	} else {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "failed").Inc()
		w.log.Errorf("入场市价单未成交, 本tick放弃入场")
	}
}

// exit 执行离场: 限价单超时后同样一次性升级为市价单。
// 离场成交后把该方向的持久化价格清为空值; 市价也失败则保持持仓等下一个tick。
func (w *Worker) exit(side models.Side, limitPrice float64, quantity int) {
	if quantity <= 0 {
		return
	}

	order, err := w.gw.PlaceLimitOrder(w.cfg.Symbol, side, quantity, limitPrice)
	if err != nil {
		w.log.Errorf("离场限价单提交失败: %v", err)
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "failed").Inc()
		return
	}

	filled, err := w.gw.WaitForFill(order.ID, w.opts.FillTimeout)
	if err != nil {
		w.log.Errorf("等待离场限价单成交时出错: %v", err)
	}
	if filled {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "filled").Inc()
		w.persistExit(side)
		w.log.Infof("离场限价单已成交 @ %.4f", limitPrice)
		return
	}

	metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "LIMIT", "timeout").Inc()
	metrics.EscalationsTotal.WithLabelValues(w.cfg.Symbol).Inc()
	if err := w.gw.CancelOrder(order.ID); err != nil {
		w.log.Warnf("撤销离场限价单失败: %v", err)
	}

	marketOrder, err := w.gw.PlaceMarketOrder(w.cfg.Symbol, side, quantity)
	if err != nil {
		w.log.Errorf("离场市价单提交失败: %v", err)
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "failed").Inc()
		return
	}
	time.Sleep(w.opts.MarketSettle)
	filled, err = w.gw.IsFilled(marketOrder.ID)
	if err != nil {
		w.log.Errorf("查询离场市价单状态失败: %v", err)
	}
	if filled {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "filled").Inc()
		w.persistExit(side)
		w.log.Info("离场市价单已成交")
	} else {
		metrics.OrdersTotal.WithLabelValues(w.cfg.Symbol, string(side), "MARKET", "failed").Inc()
		w.log.Errorf("离场市价单未成交, 保持持仓等待下一个tick")
	}
}

// persistEntry 在成交后写入该方向的入场价, 另一方向的价格保持不变。
// 写失败不回滚已执行的交易, 记录可能暂时过期直到下次写成功。
func (w *Worker) persistEntry(side models.Side, price float64) {
	record := w.loadRecord()
	if record == nil {
		record = &models.TradeRecord{}
	}
	record.Time = time.Now()
	if side == models.Buy {
		record.LongEntryPrice = &price
	} else {
		record.ShortEntryPrice = &price
	}
	if err := w.repo.Set(w.cfg.Symbol, record); err != nil {
		w.log.Errorf("持久化入场记录失败 (交易本身已执行): %v", err)
	}
}

// persistExit 在平仓后把该方向的价格写为空值, 记录本身保留
func (w *Worker) persistExit(exitSide models.Side) {
	record := w.loadRecord()
	if record == nil {
		record = &models.TradeRecord{}
	}
	record.Time = time.Now()
	if exitSide == models.Sell {
		// 卖出平多
		record.LongEntryPrice = nil
	} else {
		// 买入平空
		record.ShortEntryPrice = nil
	}
	if err := w.repo.Set(w.cfg.Symbol, record); err != nil {
		w.log.Errorf("持久化离场记录失败 (交易本身已执行): %v", err)
	}
}

// publish 输出未实现盈亏日志并更新观测指标, 结果不回流到决策
func (w *Worker) publish(latest models.IndicatorBar, pos *models.PositionSnapshot, cooldown bool) {
	var pnlLong, pnlShort float64
	if pos.LongQty > 0 {
		pnlLong = (latest.Close - pos.AvgCostLong) * pos.LongQty
		w.log.Infof("多头未实现盈亏: $%.2f", pnlLong)
	}
	if pos.ShortQty > 0 {
		pnlShort = (pos.AvgCostShort - latest.Close) * pos.ShortQty
		w.log.Infof("空头未实现盈亏: $%.2f", pnlShort)
	}
	metrics.UnrealizedPnL.WithLabelValues(w.cfg.Symbol, "long").Set(pnlLong)
	metrics.UnrealizedPnL.WithLabelValues(w.cfg.Symbol, "short").Set(pnlShort)

	if w.opts.Reporter != nil {
		w.opts.Reporter.Publish(reporter.Status{
			Symbol:       w.cfg.Symbol,
			Mode:         w.cfg.Mode,
			Close:        latest.Close,
			LongQty:      pos.LongQty,
			AvgCostLong:  pos.AvgCostLong,
			ShortQty:     pos.ShortQty,
			AvgCostShort: pos.AvgCostShort,
			PnLLong:      pnlLong,
			PnLShort:     pnlShort,
			InCooldown:   cooldown,
			UpdatedAt:    time.Now(),
		})
	}
}

// longPrice 取出持久化的多头入场价, 零值视为无
func longPrice(record *models.TradeRecord) *float64 {
	if record == nil || record.LongEntryPrice == nil || *record.LongEntryPrice <= 0 {
		return nil
	}
	return record.LongEntryPrice
}

// shortPrice 取出持久化的空头入场价, 零值视为无
func shortPrice(record *models.TradeRecord) *float64 {
	if record == nil || record.ShortEntryPrice == nil || *record.ShortEntryPrice <= 0 {
		return nil
	}
	return record.ShortEntryPrice
}
