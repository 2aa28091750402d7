package reporter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"ibkr-turtle-bot-go/internal/logger"
	"ibkr-turtle-bot-go/internal/models"
)

// Status 是单个品种worker发布的状态快照, 仅用于展示
type Status struct {
	Symbol       string
	Mode         models.Mode
	Close        float64
	LongQty      float64
	AvgCostLong  float64
	ShortQty     float64
	AvgCostShort float64
	PnLLong      float64 // 多头未实现盈亏
	PnLShort     float64 // 空头未实现盈亏
	InCooldown   bool
	UpdatedAt    time.Time
}

// Reporter 收集各worker的状态快照并定期打印汇总表。
// 纯观测用途: worker 只写不读, 交易决策不经过这里。
type Reporter struct {
	mu       sync.RWMutex
	statuses map[string]Status
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewReporter 创建一个状态报表器, interval 为打印间隔
func NewReporter(interval time.Duration) *Reporter {
	return &Reporter{
		statuses: make(map[string]Status),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Publish 更新一个品种的状态快照
func (r *Reporter) Publish(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[s.Symbol] = s
}

// Start 启动定期打印循环
func (r *Reporter) Start() {
	if r.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.print()
			}
		}
	}()
}

// Stop 停止打印循环
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// print 渲染并输出当前的品种状态表
func (r *Reporter) print() {
	r.mu.RLock()
	rows := make([]Status, 0, len(r.statuses))
	for _, s := range r.statuses {
		rows = append(rows, s)
	}
	r.mu.RUnlock()

	if len(rows) == 0 {
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"品种", "模式", "最新价", "多仓", "多头成本", "空仓", "空头成本", "多头盈亏", "空头盈亏", "冷却中", "更新时间"})
	for _, s := range rows {
		t.AppendRow(table.Row{
			s.Symbol,
			s.Mode,
			fmt.Sprintf("%.2f", s.Close),
			fmt.Sprintf("%.0f", s.LongQty),
			fmt.Sprintf("%.2f", s.AvgCostLong),
			fmt.Sprintf("%.0f", s.ShortQty),
			fmt.Sprintf("%.2f", s.AvgCostShort),
			fmt.Sprintf("%.2f", s.PnLLong),
			fmt.Sprintf("%.2f", s.PnLShort),
			s.InCooldown,
			s.UpdatedAt.Format("15:04:05"),
		})
	}
	logger.S().Infof("品种状态汇总:\n%s", t.Render())
}
