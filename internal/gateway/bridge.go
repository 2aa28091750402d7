package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"

	"ibkr-turtle-bot-go/internal/models"
)

// 订单状态轮询间隔
const fillPollInterval = time.Second

// BridgeGateway 实现了 Gateway 接口, 通过本地桥接服务与券商网关交互。
// 桥接服务持有真正的券商会话, 本客户端只说 JSON/HTTP 和 WebSocket,
// 每个并发连接用独立的 clientID 区分会话。
type BridgeGateway struct {
	baseURL    string
	wsBaseURL  string
	clientID   int
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewBridgeGateway 创建一个绑定指定会话ID的网关客户端
func NewBridgeGateway(baseURL, wsBaseURL string, clientID int, logger *zap.SugaredLogger) *BridgeGateway {
	return &BridgeGateway{
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// doRequest 是一个通用的请求处理函数, 用于向桥接服务发送请求。
func (g *BridgeGateway) doRequest(method, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("client_id", strconv.Itoa(g.clientID))

	fullURL := fmt.Sprintf("%s%s?%s", g.baseURL, endpoint, params.Encode())

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var gwError models.Error
	if json.Unmarshal(respBody, &gwError) == nil && gwError.Code != 0 {
		return respBody, &gwError
	}

	if resp.StatusCode != http.StatusOK {
		return respBody, fmt.Errorf("网关请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// Connect 检查桥接服务可达并注册会话
func (g *BridgeGateway) Connect() error {
	_, err := g.doRequest("POST", "/api/v1/sessions", nil, nil)
	if err != nil {
		return fmt.Errorf("建立网关会话失败 (client_id=%d): %w", g.clientID, err)
	}
	g.logger.Infof("网关会话已建立, client_id=%d", g.clientID)
	return nil
}

// Close 注销会话
func (g *BridgeGateway) Close() error {
	_, err := g.doRequest("DELETE", "/api/v1/sessions", nil, nil)
	return err
}

// FetchHistory 拉取历史K线并按时间戳排序
func (g *BridgeGateway) FetchHistory(symbol string, days int, barSize string) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("days", strconv.Itoa(days))
	params.Set("bar_size", barSize)

	data, err := g.doRequest("GET", "/api/v1/history", params, nil)
	if err != nil {
		return nil, err
	}

	var bars []models.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("解析历史K线失败: %w", err)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// SubscribeTicks 建立行情 WebSocket 连接并返回tick通道。
// 连接断开后自动重连, ctx 取消后通道关闭。
func (g *BridgeGateway) SubscribeTicks(ctx context.Context, symbol string) (<-chan models.Tick, error) {
	wsURL := fmt.Sprintf("%s/ws/ticks/%s?client_id=%d", g.wsBaseURL, symbol, g.clientID)

	// 先验证一次连接, 避免worker带着坏地址进入主循环
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("行情WebSocket连接失败: %w", err)
	}

	ticks := make(chan models.Tick, 64)
	go g.tickLoop(ctx, wsURL, conn, ticks)
	return ticks, nil
}

// tickLoop 是行情连接的守护循环, 负责读取和断线重连
func (g *BridgeGateway) tickLoop(ctx context.Context, wsURL string, conn *websocket.Conn, ticks chan<- models.Tick) {
	defer close(ticks)

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			var err error
			conn, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				g.logger.Warnf("行情WebSocket重连失败: %v, 5秒后重试...", err)
				continue
			}
			g.logger.Info("行情WebSocket重连成功。")
		}

		g.readTicks(ctx, conn, ticks)
		conn.Close()
		conn = nil
		if ctx.Err() != nil {
			return
		}
	}
}

// readTicks 在单条连接上循环读取直到出错。
// ctx取消时主动关闭连接, 以解除阻塞中的读调用。
func (g *BridgeGateway) readTicks(ctx context.Context, conn *websocket.Conn, ticks chan<- models.Tick) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Warnf("读取行情消息失败: %v, 准备重连...", err)
			}
			return
		}

		var tick models.Tick
		if err := json.Unmarshal(message, &tick); err != nil {
			g.logger.Warnf("解析行情消息失败: %v", err)
			continue
		}

		select {
		case ticks <- tick:
		case <-ctx.Done():
			return
		}
	}
}

// QueryPosition 查询品种的聚合持仓快照
func (g *BridgeGateway) QueryPosition(symbol string) (*models.PositionSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	data, err := g.doRequest("GET", "/api/v1/positions", params, nil)
	if err != nil {
		return nil, err
	}

	var snapshot models.PositionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("解析持仓快照失败: %w", err)
	}
	return &snapshot, nil
}

// placeOrder 提交订单, orderType 为 "LIMIT" 或 "MARKET"
func (g *BridgeGateway) placeOrder(symbol string, side models.Side, orderType string, quantity int, price float64) (*models.Order, error) {
	order := models.Order{
		ID:       newClientOrderID(),
		Symbol:   symbol,
		Side:     side,
		Type:     orderType,
		Quantity: float64(quantity),
		Price:    price,
	}

	data, err := g.doRequest("POST", "/api/v1/orders", nil, order)
	if err != nil {
		g.logger.Errorf("下单请求失败, 网关返回错误: %v, 原始响应: %s", err, string(data))
		return nil, err
	}

	var placed models.Order
	if err := json.Unmarshal(data, &placed); err != nil {
		return nil, fmt.Errorf("解析下单响应失败: %w", err)
	}
	return &placed, nil
}

// PlaceLimitOrder 提交限价单
func (g *BridgeGateway) PlaceLimitOrder(symbol string, side models.Side, quantity int, price float64) (*models.Order, error) {
	return g.placeOrder(symbol, side, "LIMIT", quantity, price)
}

// PlaceMarketOrder 提交市价单
func (g *BridgeGateway) PlaceMarketOrder(symbol string, side models.Side, quantity int) (*models.Order, error) {
	return g.placeOrder(symbol, side, "MARKET", quantity, 0)
}

// getOrder 查询订单当前状态
func (g *BridgeGateway) getOrder(orderID string) (*models.Order, error) {
	data, err := g.doRequest("GET", "/api/v1/orders/"+orderID, nil, nil)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("解析订单状态失败: %w", err)
	}
	return &order, nil
}

// WaitForFill 每秒轮询一次订单状态, 成交返回 true, 超时返回 false
func (g *BridgeGateway) WaitForFill(orderID string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		order, err := g.getOrder(orderID)
		if err != nil {
			return false, err
		}
		if order.Status == "Filled" {
			return true, nil
		}
		time.Sleep(fillPollInterval)
	}
	return false, nil
}

// CancelOrder 撤单。不保证撤单先于迟到的成交生效。
func (g *BridgeGateway) CancelOrder(orderID string) error {
	_, err := g.doRequest("DELETE", "/api/v1/orders/"+orderID, nil, nil)
	return err
}

// IsFilled 查询订单是否已成交
func (g *BridgeGateway) IsFilled(orderID string) (bool, error) {
	order, err := g.getOrder(orderID)
	if err != nil {
		return false, err
	}
	return order.Status == "Filled", nil
}

// QueryLastExecution 查询品种最近一笔成交记录, 无记录时返回 (nil, nil)
func (g *BridgeGateway) QueryLastExecution(symbol string, side models.Side) (*models.Execution, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if side != "" {
		params.Set("side", string(side))
	}

	data, err := g.doRequest("GET", "/api/v1/executions", params, nil)
	if err != nil {
		return nil, err
	}

	var executions []models.Execution
	if err := json.Unmarshal(data, &executions); err != nil {
		return nil, fmt.Errorf("解析成交记录失败: %w", err)
	}
	if len(executions) == 0 {
		return nil, nil
	}

	latest := executions[0]
	for _, e := range executions[1:] {
		if e.Time > latest.Time {
			latest = e
		}
	}
	return &latest, nil
}

// newClientOrderID 生成紧凑的客户端订单ID
func newClientOrderID() string {
	uid := uuid.New()
	return "turtle-" + base62.EncodeToString(uid[:])
}
