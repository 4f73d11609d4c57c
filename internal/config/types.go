package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了交易系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	MarketHours MarketHoursConfig `mapstructure:"market_hours"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Report      ReportConfig      `mapstructure:"report"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// GatewayConfig 描述交易网关连接信息。
type GatewayConfig struct {
	Name         string        `mapstructure:"name"` // sim | ccxt
	AccountID    string        `mapstructure:"account_id"`
	SessionPath  string        `mapstructure:"session_path"`
	Exchange     string        `mapstructure:"exchange"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	APIPass      string        `mapstructure:"api_password"`
	UseSandbox   bool          `mapstructure:"use_sandbox"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Sim          SimConfig     `mapstructure:"sim"`
}

// RetryConfig 统一控制网关读操作的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SimConfig 控制纸面交易网关的初始状态与行情节奏。
type SimConfig struct {
	InitialCash  float64       `mapstructure:"initial_cash"`
	StartPrice   float64       `mapstructure:"start_price"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// TradingConfig 描述交易标的与下单参数。
type TradingConfig struct {
	Symbols  []string `mapstructure:"symbols"`
	Period   string   `mapstructure:"period"`
	LotSize  float64  `mapstructure:"lot_size"`
	OrderTag string   `mapstructure:"order_tag"`
}

// StrategyConfig 选择策略实现及其参数。
type StrategyConfig struct {
	Name string    `mapstructure:"name"` // rsi | advisor
	RSI  RSIConfig `mapstructure:"rsi"`
}

// RSIConfig 为 RSI 策略参数。
type RSIConfig struct {
	Period     int     `mapstructure:"period"`
	Overbought float64 `mapstructure:"overbought"`
	Oversold   float64 `mapstructure:"oversold"`
}

// OpenAIConfig 描述大模型顾问策略的调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MarketHoursConfig 描述 A 股两节交易时段，用于开盘前等待与收盘退出。
type MarketHoursConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MorningOpen    string `mapstructure:"morning_open"`
	MorningClose   string `mapstructure:"morning_close"`
	AfternoonOpen  string `mapstructure:"afternoon_open"`
	AfternoonClose string `mapstructure:"afternoon_close"`
}

// EngineConfig 控制引擎主循环节奏。
type EngineConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	QueueSize      int           `mapstructure:"queue_size"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// ReportConfig 控制报表接口。
type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch c.Gateway.Name {
	case "sim", "ccxt":
	default:
		err = multierr.Append(err, fmt.Errorf("gateway.name 不支持 %q", c.Gateway.Name))
	}
	if c.Gateway.AccountID == "" {
		err = multierr.Append(err, errors.New("gateway.account_id 不能为空"))
	}
	if c.Gateway.Name == "ccxt" {
		if c.Gateway.Exchange == "" {
			err = multierr.Append(err, errors.New("gateway.exchange 不能为空"))
		}
		if c.Gateway.PollInterval <= 0 {
			err = multierr.Append(err, errors.New("gateway.poll_interval 必须大于0"))
		}
		if c.Gateway.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("gateway.retry.max_attempts 必须大于0"))
		}
		if c.Gateway.Retry.MinDelay <= 0 || c.Gateway.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("gateway.retry.delay 必须为正"))
		}
		if c.Gateway.Retry.MinDelay > c.Gateway.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("gateway.retry.min_delay 不能大于 max_delay"))
		}
	}
	if c.Gateway.Name == "sim" {
		if c.Gateway.Sim.InitialCash <= 0 {
			err = multierr.Append(err, errors.New("gateway.sim.initial_cash 必须大于0"))
		}
		if c.Gateway.Sim.StartPrice <= 0 {
			err = multierr.Append(err, errors.New("gateway.sim.start_price 必须大于0"))
		}
		if c.Gateway.Sim.TickInterval <= 0 {
			err = multierr.Append(err, errors.New("gateway.sim.tick_interval 必须大于0"))
		}
	}

	if len(c.Trading.Symbols) == 0 {
		err = multierr.Append(err, errors.New("trading.symbols 至少包含一个标的"))
	}
	if c.Trading.Period == "" {
		err = multierr.Append(err, errors.New("trading.period 不能为空"))
	}
	if c.Trading.LotSize <= 0 {
		err = multierr.Append(err, errors.New("trading.lot_size 必须大于0"))
	}

	switch c.Strategy.Name {
	case "rsi":
		if c.Strategy.RSI.Period < 2 {
			err = multierr.Append(err, errors.New("strategy.rsi.period 必须大于1"))
		}
		if c.Strategy.RSI.Oversold <= 0 || c.Strategy.RSI.Overbought >= 100 {
			err = multierr.Append(err, errors.New("strategy.rsi 阈值必须位于(0,100)"))
		}
		if c.Strategy.RSI.Oversold >= c.Strategy.RSI.Overbought {
			err = multierr.Append(err, errors.New("strategy.rsi.oversold 必须小于 overbought"))
		}
	case "advisor":
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("strategy.name 不支持 %q", c.Strategy.Name))
	}

	if c.MarketHours.Enabled {
		for _, field := range []struct {
			key   string
			value string
		}{
			{"market_hours.morning_open", c.MarketHours.MorningOpen},
			{"market_hours.morning_close", c.MarketHours.MorningClose},
			{"market_hours.afternoon_open", c.MarketHours.AfternoonOpen},
			{"market_hours.afternoon_close", c.MarketHours.AfternoonClose},
		} {
			if _, parseErr := time.Parse("15:04", field.value); parseErr != nil {
				err = multierr.Append(err, fmt.Errorf("%s 格式应为 HH:MM", field.key))
			}
		}
	}

	if c.Engine.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.poll_interval 必须大于0"))
	}
	if c.Engine.QueueSize <= 0 {
		err = multierr.Append(err, errors.New("engine.queue_size 必须大于0"))
	}
	if c.Engine.StatusInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.status_interval 必须大于0"))
	}

	if c.Report.Enabled && (c.Report.Port <= 0 || c.Report.Port > 65535) {
		err = multierr.Append(err, errors.New("report.port 必须为有效端口"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
