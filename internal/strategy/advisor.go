package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"qmt-trader/internal/config"
	"qmt-trader/internal/indicator"
	"qmt-trader/internal/market"
)

// advisorWindow 为提示词中携带的最近收盘价数量。
const advisorWindow = 32

// Advisor 将最近行情摘要交给大模型，由模型给出 buy/sell/hold。
// 模型调用失败通过错误返回，由引擎按单次更新失败处理。
type Advisor struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client

	closes []float64
}

type advisorReply struct {
	Signal string `json:"signal"`
	Reason string `json:"reason"`
}

// NewAdvisor 创建大模型顾问策略。
func NewAdvisor(cfg config.OpenAIConfig, logger *zap.Logger) (*Advisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Advisor{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Initialize 重置行情窗口。
func (a *Advisor) Initialize() error {
	a.closes = a.closes[:0]
	a.logger.Info("顾问策略初始化", zap.String("model", a.cfg.Model))
	return nil
}

// OnBar 积累行情并询问模型。窗口不足时观望，不调用模型。
func (a *Advisor) OnBar(bar market.Bar) (Signal, error) {
	a.closes = append(a.closes, bar.Close)
	if len(a.closes) > advisorWindow*4 {
		a.closes = a.closes[len(a.closes)-advisorWindow*4:]
	}
	if len(a.closes) < advisorWindow {
		return SignalHold, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	prompt := a.buildPrompt(bar)
	response, err := a.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return SignalHold, fmt.Errorf("调用模型失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return SignalHold, errors.New("模型返回结果为空")
	}

	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	reply, err := parseAdvisorReply(raw)
	if err != nil {
		return SignalHold, fmt.Errorf("解析模型回复失败: %w (raw=%q)", err, raw)
	}

	signal := Signal(strings.ToLower(strings.TrimSpace(reply.Signal)))
	switch signal {
	case SignalBuy, SignalSell, SignalHold:
	default:
		return SignalHold, fmt.Errorf("模型返回未知信号 %q", reply.Signal)
	}

	a.logger.Info("顾问策略给出信号",
		zap.String("signal", string(signal)),
		zap.String("reason", reply.Reason),
	)
	return signal, nil
}

// Stop 无需清理。
func (a *Advisor) Stop() error {
	a.logger.Info("顾问策略已停止")
	return nil
}

func (a *Advisor) buildPrompt(bar market.Bar) string {
	window := indicator.Tail(a.closes, advisorWindow)
	rsi14 := indicator.RSI(a.closes, 14)
	sma20 := indicator.SMA(a.closes, 20)

	var sb strings.Builder
	sb.WriteString("你是一名短线交易助手。根据以下行情数据给出下一步动作。\n")
	fmt.Fprintf(&sb, "最新K线: time=%s open=%.4f high=%.4f low=%.4f close=%.4f volume=%.0f\n",
		bar.Datetime.Format(time.RFC3339), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	if !math.IsNaN(rsi14) {
		fmt.Fprintf(&sb, "RSI(14)=%.2f\n", rsi14)
	}
	if !math.IsNaN(sma20) {
		fmt.Fprintf(&sb, "SMA(20)=%.4f\n", sma20)
	}
	fmt.Fprintf(&sb, "最近%d根收盘价: %v\n", len(window), window)
	sb.WriteString(`只输出JSON，格式: {"signal":"buy|sell|hold","reason":"简要理由"}`)
	return sb.String()
}

func parseAdvisorReply(content string) (advisorReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return advisorReply{}, errors.New("回复中未找到JSON对象")
	}

	var reply advisorReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return advisorReply{}, err
	}
	return reply, nil
}

var _ Strategy = (*Advisor)(nil)
