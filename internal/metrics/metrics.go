package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 观测用指标, 只读不回流: 指标值永远不参与交易决策。
var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turtle_ticks_total",
			Help: "Ticks processed per instrument",
		},
		[]string{"symbol"},
	)

	SkippedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turtle_skipped_ticks_total",
			Help: "Ticks skipped due to missing fields",
		},
		[]string{"symbol"},
	)

	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turtle_orders_total",
			Help: "Orders placed, split by side, type and result",
		},
		[]string{"symbol", "side", "type", "result"}, // result: filled|timeout|failed
	)

	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turtle_order_escalations_total",
			Help: "Limit orders escalated to market after fill timeout",
		},
		[]string{"symbol"},
	)

	UnrealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "turtle_unrealized_pnl",
			Help: "Unrealized PnL per instrument and side",
		},
		[]string{"symbol", "side"}, // side: long|short
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turtle_worker_restarts_total",
			Help: "Worker restarts performed by the fleet supervisor",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		SkippedTicksTotal,
		OrdersTotal,
		EscalationsTotal,
		UnrealizedPnL,
		WorkerRestartsTotal,
	)
}

// Serve 在指定地址启动 /metrics 端点, addr 为空时不启动
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, mux)
}
