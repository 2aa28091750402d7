package gateway

import (
	"context"
	"time"

	"ibkr-turtle-bot-go/internal/models"
)

// Gateway 定义了交易核心消费的全部券商操作。
// 这使得 worker 可以在真实网关和测试替身之间轻松切换。
// 除 WaitForFill 外的调用都可能阻塞在网络IO上, 只有等待成交带显式超时。
type Gateway interface {
	// Connect 以配置的会话ID建立网关连接
	Connect() error
	// Close 断开连接并释放后台任务
	Close() error

	// FetchHistory 拉取指定品种的历史K线, 按时间戳递增排序
	FetchHistory(symbol string, days int, barSize string) ([]models.Bar, error)
	// SubscribeTicks 订阅实时行情, ctx 取消后通道关闭
	SubscribeTicks(ctx context.Context, symbol string) (<-chan models.Tick, error)

	// QueryPosition 查询品种的聚合持仓快照, 无持仓时各字段为零
	QueryPosition(symbol string) (*models.PositionSnapshot, error)

	// PlaceLimitOrder 提交限价单
	PlaceLimitOrder(symbol string, side models.Side, quantity int, price float64) (*models.Order, error)
	// PlaceMarketOrder 提交市价单
	PlaceMarketOrder(symbol string, side models.Side, quantity int) (*models.Order, error)
	// WaitForFill 轮询订单状态直到成交或超时, 超时返回 (false, nil)
	WaitForFill(orderID string, timeout time.Duration) (bool, error)
	// CancelOrder 撤单。撤单与迟到成交存在竞态, 最终状态以持仓查询为准
	CancelOrder(orderID string) error
	// IsFilled 查询订单是否已成交
	IsFilled(orderID string) (bool, error)

	// QueryLastExecution 查询品种最近一笔成交记录, side 为空表示不限方向,
	// 无记录时返回 (nil, nil)
	QueryLastExecution(symbol string, side models.Side) (*models.Execution, error)
}
