package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"qmt-trader/internal/gateway"
	"qmt-trader/internal/strategy"
)

// Status 为会话状态。
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSubscribed   Status = "subscribed"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
)

// ErrInvalidTransition 表示非法的状态迁移（如未连接先停止）。
var ErrInvalidTransition = errors.New("session: 非法状态迁移")

// sessionSeq 保证会话ID在进程生命周期内单调递增，避免同秒重启碰撞。
var sessionSeq atomic.Uint64

// Session 管理与网关的一次连接生命周期：
// disconnected → connecting → connected → subscribed → running → stopped。
type Session struct {
	id        string
	accountID string
	gw        gateway.Gateway
	strategy  strategy.Strategy
	logger    *zap.Logger

	mu       sync.Mutex
	status   Status
	stopOnce sync.Once
}

// New 创建会话，初始状态为 disconnected。
func New(accountID string, gw gateway.Gateway, strat strategy.Strategy, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:        newSessionID(),
		accountID: accountID,
		gw:        gw,
		strategy:  strat,
		logger:    logger,
		status:    StatusDisconnected,
	}
}

// ID 返回会话唯一标识。
func (s *Session) ID() string {
	return s.id
}

// Status 返回当前状态。
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect 连接网关并订阅账户。网关连接失败时保持 disconnected 并向
// 调用方返回错误，不自动重试。重复调用在已订阅后为空操作。
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusSubscribed, StatusRunning:
		s.mu.Unlock()
		return nil
	case StatusStopped:
		s.mu.Unlock()
		return fmt.Errorf("%w: 会话已停止，无法连接", ErrInvalidTransition)
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	s.logger.Info("连接交易网关",
		zap.String("session_id", s.id),
		zap.String("account_id", s.accountID),
	)

	if err := s.gw.Connect(ctx); err != nil {
		s.setStatus(StatusDisconnected)
		return fmt.Errorf("连接网关失败: %w", err)
	}
	s.setStatus(StatusConnected)

	if err := s.gw.SubscribeAccount(ctx, s.accountID); err != nil {
		return fmt.Errorf("订阅账户失败: %w", err)
	}
	s.setStatus(StatusSubscribed)

	s.logger.Info("网关连接就绪", zap.String("session_id", s.id))
	return nil
}

// MarkRunning 将已订阅的会话标记为运行中。
func (s *Session) MarkRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSubscribed {
		return fmt.Errorf("%w: %s → running", ErrInvalidTransition, s.status)
	}
	s.status = StatusRunning
	return nil
}

// Stop 停止会话：恰好调用一次策略的 Stop 并释放网关会话。幂等，
// 重复调用不报错；在连接之前调用视为非法迁移。
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.status {
	case StatusStopped:
		s.mu.Unlock()
		return nil
	case StatusDisconnected, StatusConnecting:
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s → stopped", ErrInvalidTransition, status)
	}
	s.status = StatusStopped
	s.mu.Unlock()

	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("停止会话", zap.String("session_id", s.id))
		if stopErr := s.strategy.Stop(); stopErr != nil {
			s.logger.Warn("策略停止异常", zap.Error(stopErr))
			err = stopErr
		}
		if closeErr := s.gw.Close(); closeErr != nil {
			s.logger.Warn("释放网关会话异常", zap.Error(closeErr))
			if err == nil {
				err = closeErr
			}
		}
	})
	return err
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// newSessionID 由进程启动时间与单调递增序号组成，避免以秒级时钟作为
// 唯一性来源导致的快速重启碰撞。
func newSessionID() string {
	return fmt.Sprintf("%d-%04d", time.Now().UnixNano(), sessionSeq.Add(1))
}
