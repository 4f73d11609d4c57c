package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"qmt-trader/internal/config"
)

// MarketHours 依据 A 股上午、下午两节交易时段控制引擎的启停：
// 开盘前等待，午间休市等待，收盘后退出。时刻比较按 "HH:MM" 字符串进行，
// 与配置格式一致。
type MarketHours struct {
	cfg    config.MarketHoursConfig
	logger *zap.Logger

	now         func() time.Time
	preOpenWait time.Duration
	lunchWait   time.Duration
}

func NewMarketHours(cfg config.MarketHoursConfig, logger *zap.Logger) *MarketHours {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketHours{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		preOpenWait: 30 * time.Second,
		lunchWait:   time.Minute,
	}
}

// InSession 判断给定时刻是否处于任一交易时段内（含边界）。
func (h *MarketHours) InSession(t time.Time) bool {
	if !h.cfg.Enabled {
		return true
	}
	clock := t.Format("15:04")
	if clock >= h.cfg.MorningOpen && clock <= h.cfg.MorningClose {
		return true
	}
	return clock >= h.cfg.AfternoonOpen && clock <= h.cfg.AfternoonClose
}

// Closed 判断给定时刻是否已过当日收盘。
func (h *MarketHours) Closed(t time.Time) bool {
	if !h.cfg.Enabled {
		return false
	}
	return t.Format("15:04") > h.cfg.AfternoonClose
}

// WaitForOpen 阻塞等待至下一个交易时段开始。返回 true 表示已处于交易时段；
// 返回 false 表示当日已收盘，不应再启动交易。ctx 取消时立即返回。
func (h *MarketHours) WaitForOpen(ctx context.Context) (bool, error) {
	if !h.cfg.Enabled {
		return true, nil
	}

	for {
		now := h.now()
		if h.InSession(now) {
			return true, nil
		}
		if h.Closed(now) {
			h.logger.Info("当日已收盘", zap.String("clock", now.Format("15:04")))
			return false, nil
		}

		wait := h.preOpenWait
		clock := now.Format("15:04")
		if clock > h.cfg.MorningClose && clock < h.cfg.AfternoonOpen {
			wait = h.lunchWait
			h.logger.Info("午间休市，等待下午开盘",
				zap.String("clock", clock),
				zap.String("afternoon_open", h.cfg.AfternoonOpen),
			)
		} else {
			h.logger.Info("等待开盘",
				zap.String("clock", clock),
				zap.String("morning_open", h.cfg.MorningOpen),
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
