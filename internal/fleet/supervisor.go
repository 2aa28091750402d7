package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ibkr-turtle-bot-go/internal/metrics"
	"ibkr-turtle-bot-go/internal/models"
)

// WorkerRunner 运行一个品种worker直到其退出。
// 注入函数而不是具体类型, 方便在测试中替换worker实现。
type WorkerRunner func(ctx context.Context, cfg models.WorkerConfig) error

// Supervisor 按静态品种表拉起worker并监督其生命周期。
// 每个worker是独立的执行单元, 绑定唯一的网关会话ID,
// 彼此只通过持久化存储和网关交互, 不共享可变内存。
type Supervisor struct {
	cfg    *models.Config
	runner WorkerRunner
	log    *zap.SugaredLogger
}

// NewSupervisor 创建一个fleet监督器
func NewSupervisor(cfg *models.Config, runner WorkerRunner, log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{cfg: cfg, runner: runner, log: log}
}

// Run 按配置的重启策略循环运行整个fleet, ctx取消后返回。
// "cycle": 参考行为, 等所有worker退出后整队重启;
// "worker": 单个worker致命故障后只重启它自己。
func (s *Supervisor) Run(ctx context.Context) error {
	cycle := 0
	for {
		cycle++
		s.log.Infof("fleet第 %d 轮启动, 共 %d 个品种", cycle, len(s.cfg.Workers))

		if s.cfg.RestartPolicy == "worker" {
			s.runWithWorkerRestart(ctx)
		} else {
			s.runOneCycle(ctx)
		}

		if ctx.Err() != nil {
			s.log.Info("fleet已停止。")
			return nil
		}
		if s.cfg.MaxCycles > 0 && cycle >= s.cfg.MaxCycles {
			s.log.Infof("已达到最大轮数 %d, fleet退出。", s.cfg.MaxCycles)
			return nil
		}

		s.log.Infof("本轮全部worker已退出, %d 秒后重启下一轮...", s.cfg.RestartDelaySec)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.RestartDelaySec) * time.Second):
		}
	}
}

// runOneCycle 并发拉起所有worker并阻塞到全部退出。
// 单个worker的失败被隔离, 不影响其他worker继续运行。
func (s *Supervisor) runOneCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, wc := range s.cfg.Workers {
		wg.Add(1)
		go func(wc models.WorkerConfig) {
			defer wg.Done()
			if err := s.runOnce(ctx, wc); err != nil {
				s.log.Errorf("worker %s 已退出: %v", wc.Symbol, err)
			}
		}(wc)
	}
	wg.Wait()
}

// runWithWorkerRestart 每个worker有自己的重启循环, 故障后延迟重启自己
func (s *Supervisor) runWithWorkerRestart(ctx context.Context) {
	var wg sync.WaitGroup
	for _, wc := range s.cfg.Workers {
		wg.Add(1)
		go func(wc models.WorkerConfig) {
			defer wg.Done()
			for {
				err := s.runOnce(ctx, wc)
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					return
				}
				s.log.Errorf("worker %s 故障: %v, %d 秒后重启...", wc.Symbol, err, s.cfg.RestartDelaySec)
				metrics.WorkerRestartsTotal.WithLabelValues(wc.Symbol).Inc()
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(s.cfg.RestartDelaySec) * time.Second):
				}
			}
		}(wc)
	}
	wg.Wait()
}

// runOnce 运行一次worker, panic被兜住并转成错误, 保证故障隔离
func (s *Supervisor) runOnce(ctx context.Context, wc models.WorkerConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panic: %v", wc.Symbol, r)
		}
	}()
	return s.runner(ctx, wc)
}
